package block

import (
	"errors"
	"testing"

	"github.com/danmuck/blockbridge/internal/protocol/wire"
	"github.com/danmuck/blockbridge/internal/testutil/testlog"
)

func TestNamedOperationsPassThrough(t *testing.T) {
	testlog.Start(t)
	ch, tr := newTestChannel(t, nil)
	ch.Receive(hostOrigin, wire.Handshake(hostOrigin, nil))

	ch.GetCentralData(nil)
	ch.SetCentralData(map[string]any{"a": 1}, nil)
	ch.GetContent(nil)
	ch.SetContent("<p>x</p>", nil)
	ch.SetSuperContent("<p>x</p>", nil)
	ch.GetData(nil)
	ch.SetData(map[string]any{"b": 2}, nil)
	ch.GetUserData(nil)
	ch.GetView(nil)
	ch.SetBlockEditorWidth(600, nil)

	out := tr.snapshot()[1:]
	methods := Methods()
	if len(out) != len(methods) {
		t.Fatalf("expected %d calls, got %d", len(methods), len(out))
	}
	for i, s := range out {
		if s.msg.Method != methods[i] || s.msg.ID != int64(i+1) || s.target != hostOrigin {
			t.Fatalf("call[%d] unexpected: %+v", i, s)
		}
	}
	if out[3].msg.Payload != "<p>x</p>" || out[9].msg.Payload != 600 {
		t.Fatalf("payload not passed through: %+v %+v", out[3], out[9])
	}
}

func TestSSOURL(t *testing.T) {
	testlog.Start(t)
	got, err := SSOURL("s7", "app-1")
	if err != nil || got != "https://mc.s7.exacttarget.com/cloud/tools/SSO.aspx?appId=app-1&restToken=1&hub=1" {
		t.Fatalf("unexpected sso url=%q err=%v", got, err)
	}
	got, err = SSOURL("qa1s1", "app-1")
	if err != nil || got != "https://mc.s1.qa1.exacttarget.com/cloud/tools/SSO.aspx?appId=app-1&restToken=1&hub=1" {
		t.Fatalf("unexpected qa sso url=%q err=%v", got, err)
	}
	got, err = SSOURL("qa1", "app-1")
	if err != nil || got != "https://mc.qa1.exacttarget.com/cloud/tools/SSO.aspx?appId=app-1&restToken=1&hub=1" {
		t.Fatalf("short qa stack should pass through, url=%q err=%v", got, err)
	}
	if _, err := SSOURL(" ", "app-1"); !errors.Is(err, ErrStackRequired) {
		t.Fatalf("expected ErrStackRequired, got %v", err)
	}
}

func TestAuthorizeURL(t *testing.T) {
	testlog.Start(t)
	got, err := AuthorizeURL(AuthInfo{
		AuthURL:     "https://auth.example.com",
		ClientID:    "client",
		RedirectURL: "https://block.test/cb",
		Scope:       []string{"email_read", "email_write"},
		State:       "xyz",
	})
	want := "https://auth.example.com/v2/authorize?response_type=code&client_id=client" +
		"&redirect_uri=https%3A%2F%2Fblock.test%2Fcb&scope=email_read%20email_write&state=xyz"
	if err != nil || got != want {
		t.Fatalf("unexpected authorize url:\n got=%q\nwant=%q err=%v", got, want, err)
	}
	got, _ = AuthorizeURL(AuthInfo{AuthURL: "https://auth.example.com/", ClientID: "c", RedirectURL: "r"})
	if got != "https://auth.example.com/v2/authorize?response_type=code&client_id=c&redirect_uri=r" {
		t.Fatalf("unexpected minimal url: %q", got)
	}
	if _, err := AuthorizeURL(AuthInfo{}); !errors.Is(err, ErrAuthURLRequired) {
		t.Fatalf("expected ErrAuthURLRequired, got %v", err)
	}
}

func TestTriggerAuthUsesUserStack(t *testing.T) {
	testlog.Start(t)
	ch, _ := newTestChannel(t, nil)
	ch.Receive(hostOrigin, wire.Handshake(hostOrigin, nil))

	var opened []string
	ch.TriggerAuth("app-9", func(u string) { opened = append(opened, u) })
	ch.Receive(hostOrigin, wire.Response(1, map[string]any{"stack": "s10"}))
	if len(opened) != 1 || opened[0] != "https://mc.s10.exacttarget.com/cloud/tools/SSO.aspx?appId=app-9&restToken=1&hub=1" {
		t.Fatalf("unexpected opened urls: %+v", opened)
	}

	ch.TriggerAuth("app-9", func(u string) { opened = append(opened, u) })
	ch.Receive(hostOrigin, wire.Response(2, map[string]any{}))
	if len(opened) != 1 {
		t.Fatalf("opened without stack: %+v", opened)
	}
}
