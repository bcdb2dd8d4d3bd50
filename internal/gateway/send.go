package gateway

import "fmt"

// Outbound sends are fire-and-report: a failure is returned to the caller
// and never retried here. Retrying is the work queue's job for inbound
// processing only.

func (c *Connection) SendText(to string, text string) error {
	return c.writeFrame(outboundFrame{Type: frameSendText, To: to, Text: text})
}

func (c *Connection) SendVoice(to string, audioRef string, pushToTalk bool) error {
	return c.writeFrame(outboundFrame{Type: frameSendVoice, To: to, AudioRef: audioRef, PushToTalk: pushToTalk})
}

func (c *Connection) SendDocument(to string, docRef string, filename string) error {
	return c.writeFrame(outboundFrame{Type: frameSendDocument, To: to, DocRef: docRef, Filename: filename})
}

func (c *Connection) SendButtons(to string, title string, options []string) error {
	return c.writeFrame(outboundFrame{Type: frameSendButtons, To: to, Title: title, Options: options})
}

func (c *Connection) writeFrame(frame outboundFrame) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send %s: %w", frame.Type, err)
	}
	return nil
}
