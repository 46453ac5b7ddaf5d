package helm

import "context"

// SetRenderFunc replaces the render attempt used by Render.
func (c *Client) SetRenderFunc(fn func(ctx context.Context, req RenderRequest) (string, error)) {
	c.render = fn
}
