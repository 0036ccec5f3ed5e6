package block

import "github.com/danmuck/blockbridge/internal/protocol/session"

// Host operations. Each is a plain call; the reply payload is passed to the
// consumer unchanged.
const (
	MethodGetCentralData      = "getCentralData"
	MethodSetCentralData      = "setCentralData"
	MethodGetContent          = "getContent"
	MethodSetContent          = "setContent"
	MethodSetSuperContent     = "setSuperContent"
	MethodGetData             = "getData"
	MethodSetData             = "setData"
	MethodGetUserData         = "getUserData"
	MethodGetView             = "getView"
	MethodSetBlockEditorWidth = "setBlockEditorWidth"
)

// Methods lists every named host operation.
func Methods() []string {
	return []string{
		MethodGetCentralData,
		MethodSetCentralData,
		MethodGetContent,
		MethodSetContent,
		MethodSetSuperContent,
		MethodGetData,
		MethodSetData,
		MethodGetUserData,
		MethodGetView,
		MethodSetBlockEditorWidth,
	}
}

func (c *Channel) GetCentralData(cb session.Consumer) {
	c.Call(MethodGetCentralData, nil, cb)
}

func (c *Channel) SetCentralData(data any, cb session.Consumer) {
	c.Call(MethodSetCentralData, data, cb)
}

func (c *Channel) GetContent(cb session.Consumer) {
	c.Call(MethodGetContent, nil, cb)
}

func (c *Channel) SetContent(content string, cb session.Consumer) {
	c.Call(MethodSetContent, content, cb)
}

// SetSuperContent sets the preview rendering of the block.
func (c *Channel) SetSuperContent(content string, cb session.Consumer) {
	c.Call(MethodSetSuperContent, content, cb)
}

func (c *Channel) GetData(cb session.Consumer) {
	c.Call(MethodGetData, nil, cb)
}

func (c *Channel) SetData(data any, cb session.Consumer) {
	c.Call(MethodSetData, data, cb)
}

func (c *Channel) GetUserData(cb session.Consumer) {
	c.Call(MethodGetUserData, nil, cb)
}

func (c *Channel) GetView(cb session.Consumer) {
	c.Call(MethodGetView, nil, cb)
}

func (c *Channel) SetBlockEditorWidth(width any, cb session.Consumer) {
	c.Call(MethodSetBlockEditorWidth, width, cb)
}
