package block

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/danmuck/blockbridge/internal/protocol/session"
)

var (
	ErrStackRequired   = errors.New("block: user data missing stack")
	ErrAuthURLRequired = errors.New("block: auth url required")
)

// SSOURL builds the legacy single sign-on URL for appID on stack. QA stacks
// ("qa1s1") are addressed as "s1.qa1". A "qa" stack shorter than five
// characters has no such split and is used as given ("qa1" stays "qa1"),
// rather than being clamped into a leading-dot host like ".qa1".
func SSOURL(stack, appID string) (string, error) {
	stack = strings.TrimSpace(stack)
	if stack == "" {
		return "", ErrStackRequired
	}
	if strings.HasPrefix(stack, "qa") && len(stack) >= 5 {
		stack = stack[3:5] + "." + stack[0:3]
	}
	return fmt.Sprintf(
		"https://mc.%s.exacttarget.com/cloud/tools/SSO.aspx?appId=%s&restToken=1&hub=1",
		stack, url.QueryEscape(appID),
	), nil
}

// AuthInfo describes an OAuth2 authorization-code request.
type AuthInfo struct {
	AuthURL     string
	ClientID    string
	RedirectURL string
	Scope       []string
	State       string
}

// AuthorizeURL builds the v2 authorize URL for info.
func AuthorizeURL(info AuthInfo) (string, error) {
	base := strings.TrimSpace(info.AuthURL)
	if base == "" {
		return "", ErrAuthURLRequired
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("v2/authorize?response_type=code&client_id=")
	b.WriteString(url.QueryEscape(info.ClientID))
	b.WriteString("&redirect_uri=")
	b.WriteString(url.QueryEscape(info.RedirectURL))
	if len(info.Scope) > 0 {
		scopes := make([]string, len(info.Scope))
		for i, s := range info.Scope {
			scopes[i] = url.QueryEscape(s)
		}
		b.WriteString("&scope=")
		b.WriteString(strings.Join(scopes, "%20"))
	}
	if info.State != "" {
		b.WriteString("&state=")
		b.WriteString(url.QueryEscape(info.State))
	}
	return b.String(), nil
}

// TriggerAuth fetches the user's stack from the host and hands the SSO URL
// for appID to open. open is not called if the user data has no stack.
func (c *Channel) TriggerAuth(appID string, open func(ssoURL string)) {
	c.GetUserData(func(r session.Result) {
		if !r.OK() {
			return
		}
		data, _ := r.Payload.(map[string]any)
		stack, _ := data["stack"].(string)
		ssoURL, err := SSOURL(stack, appID)
		if err != nil {
			return
		}
		open(ssoURL)
	})
}
