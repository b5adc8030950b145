// Package client implements a thin Blockchain Security 2Go command-set
// client on top of a t1prime.Engine. It builds raw APDU-shaped byte strings
// itself rather than depending on package apducodec, deliberately staying
// small enough to exercise the transceive stack without re-implementing the
// APDU case/Lc/Le rules apducodec exists to eventually own.
package client

import (
	"context"
	"fmt"

	"blocksec2go/t1prime"
)

const (
	swSuccessHi = 0x90
	swSuccessLo = 0x00
)

// Client drives a Blockchain Security 2Go applet's command set through an
// activated t1prime.Engine.
type Client struct {
	engine *t1prime.Engine
}

// New wraps an already-activated engine.
func New(engine *t1prime.Engine) *Client {
	return &Client{engine: engine}
}

// SelectApplet sends SELECT (CLA=00, INS=A4, P1=04, P2=00) with aid as the
// data field and requires a 0x9000 status word in response.
func (c *Client) SelectApplet(ctx context.Context, aid []byte) error {
	cmd := append([]byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}, aid...)
	resp, err := c.engine.Transceive(ctx, cmd)
	if err != nil {
		return fmt.Errorf("client: select applet: %w", err)
	}
	if _, err := checkStatus(resp); err != nil {
		return fmt.Errorf("client: select applet: %w", err)
	}
	return nil
}

// GetPublicKey sends the Block2Go GET PUBLIC KEY command (CLA=80, INS=64)
// for the key at keyID and returns the key data on a 0x9000 status word.
func (c *Client) GetPublicKey(ctx context.Context, keyID byte) ([]byte, error) {
	cmd := []byte{0x80, 0x64, keyID, 0x00, 0x00}
	resp, err := c.engine.Transceive(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("client: get public key: %w", err)
	}
	data, err := checkStatus(resp)
	if err != nil {
		return nil, fmt.Errorf("client: get public key: %w", err)
	}
	return data, nil
}

// checkStatus splits the trailing status word off resp and requires it be
// 0x9000. It does not interpret any other status word — that belongs to
// the APDU layer this client intentionally does not reimplement.
func checkStatus(resp []byte) ([]byte, error) {
	if len(resp) < 2 {
		return nil, fmt.Errorf("response shorter than a status word: %x", resp)
	}
	data, sw := resp[:len(resp)-2], resp[len(resp)-2:]
	if sw[0] != swSuccessHi || sw[1] != swSuccessLo {
		return nil, fmt.Errorf("unexpected status word %02x%02x", sw[0], sw[1])
	}
	return data, nil
}
