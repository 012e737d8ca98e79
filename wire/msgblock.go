package wire

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
)

// MsgBlock represents a nimiq block as exchanged with a pool.  Pools announce
// light blocks, which carry no body; a full block keeps its body as the
// opaque serialized bytes since the miner never interprets transactions.
type MsgBlock struct {
	Header    BlockHeader
	Interlink BlockInterlink
	Body      []byte
}

// BlockHash computes the block identifier hash for this block.
func (msg *MsgBlock) BlockHash() chainhash.Hash {
	return msg.Header.BlockHash()
}

// IsLight reports whether the block was transmitted without its body.
func (msg *MsgBlock) IsLight() bool {
	return msg.Body == nil
}

// Copy returns a deep copy of the block so the header can be modified, for
// instance to set a nonce, without touching the original.
func (msg *MsgBlock) Copy() *MsgBlock {
	block := &MsgBlock{Header: msg.Header}
	block.Interlink.Hashes = append([]chainhash.Hash(nil), msg.Interlink.Hashes...)
	if msg.Body != nil {
		block.Body = append([]byte{}, msg.Body...)
	}
	return block
}

// Serialize encodes the block to w: header, interlink, then a presence flag
// followed by the body when there is one.
func (msg *MsgBlock) Serialize(w io.Writer) error {
	if err := writeBlockHeader(w, &msg.Header); err != nil {
		return err
	}
	if err := msg.Interlink.Serialize(w); err != nil {
		return err
	}
	if msg.Body == nil {
		return writeElement(w, uint8(0))
	}
	if err := writeElement(w, uint8(1)); err != nil {
		return err
	}
	_, err := w.Write(msg.Body)
	return err
}

// Deserialize decodes a block from r.  The body, when flagged present,
// extends to the end of r.
func (msg *MsgBlock) Deserialize(r io.Reader) error {
	if err := readBlockHeader(r, &msg.Header); err != nil {
		return err
	}
	if err := msg.Interlink.Deserialize(r); err != nil {
		return err
	}

	var hasBody uint8
	if err := readElement(r, &hasBody); err != nil {
		return err
	}
	switch hasBody {
	case 0:
		msg.Body = nil
		var trailing [1]byte
		if n, _ := r.Read(trailing[:]); n != 0 {
			return fmt.Errorf("unexpected data after light block")
		}
		return nil
	case 1:
		body, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		msg.Body = body
		return nil
	}
	return fmt.Errorf("invalid body flag %d", hasBody)
}

// Bytes returns the serialized block.
func (msg *MsgBlock) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := msg.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Base64 returns the serialized block in standard base64 encoding, the form
// pools use in json messages.
func (msg *MsgBlock) Base64() (string, error) {
	b, err := msg.Bytes()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// NewBlockFromBase64 decodes a base64 encoded serialized block.
func NewBlockFromBase64(s string) (*MsgBlock, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var block MsgBlock
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return &block, nil
}

// HashFromBase64 decodes a base64 encoded 32 byte hash.
func HashFromBase64(s string) (*chainhash.Hash, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return chainhash.NewHash(raw)
}
