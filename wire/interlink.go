package wire

import (
	"fmt"
	"io"

	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
)

// BlockInterlink is the list of references a block keeps to the hardest
// blocks before it, ordered by increasing depth.  Consecutive duplicate
// entries are compressed on the wire behind a repeat bitmap.
type BlockInterlink struct {
	Hashes []chainhash.Hash
}

// NewBlockInterlink returns an interlink referencing hashes.
func NewBlockInterlink(hashes []chainhash.Hash) *BlockInterlink {
	return &BlockInterlink{Hashes: hashes}
}

// compress splits the interlink into its repeat bitmap and the hashes that
// are actually written.
func (il *BlockInterlink) compress() ([]byte, []chainhash.Hash) {
	repeatBits := make([]byte, (len(il.Hashes)+7)/8)
	compressed := make([]chainhash.Hash, 0, len(il.Hashes))
	for i := range il.Hashes {
		if i > 0 && il.Hashes[i] == il.Hashes[i-1] {
			repeatBits[i/8] |= 0x80 >> uint(i%8)
			continue
		}
		compressed = append(compressed, il.Hashes[i])
	}
	return repeatBits, compressed
}

// Hash returns the merkle root committed to by a header's InterlinkHash.
// The genesis hash of the network is mixed in so interlinks of different
// networks never collide.
func (il *BlockInterlink) Hash(genesis *chainhash.Hash) chainhash.Hash {
	repeatBits, compressed := il.compress()

	leaves := make([]chainhash.Hash, 0, len(compressed)+2)
	leaves = append(leaves, chainhash.HashH(repeatBits), *genesis)
	leaves = append(leaves, compressed...)
	return merkleRoot(leaves)
}

// IsEqual reports whether both interlinks reference the same hashes.
func (il *BlockInterlink) IsEqual(other *BlockInterlink) bool {
	if len(il.Hashes) != len(other.Hashes) {
		return false
	}
	for i := range il.Hashes {
		if il.Hashes[i] != other.Hashes[i] {
			return false
		}
	}
	return true
}

// Serialize encodes the interlink to w.
func (il *BlockInterlink) Serialize(w io.Writer) error {
	if len(il.Hashes) > MaxInterlinkHashes {
		return fmt.Errorf("interlink has %d hashes, max %d",
			len(il.Hashes), MaxInterlinkHashes)
	}

	repeatBits, compressed := il.compress()
	if err := writeElement(w, uint8(len(il.Hashes))); err != nil {
		return err
	}
	if _, err := w.Write(repeatBits); err != nil {
		return err
	}
	for i := range compressed {
		if err := writeElement(w, &compressed[i]); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes an interlink from r into the receiver.
func (il *BlockInterlink) Deserialize(r io.Reader) error {
	var count uint8
	if err := readElement(r, &count); err != nil {
		return err
	}
	repeatBits := make([]byte, (int(count)+7)/8)
	if _, err := io.ReadFull(r, repeatBits); err != nil {
		return err
	}

	hashes := make([]chainhash.Hash, count)
	for i := 0; i < int(count); i++ {
		repeated := repeatBits[i/8]&(0x80>>uint(i%8)) != 0
		if repeated {
			if i == 0 {
				return fmt.Errorf("interlink repeats a hash at index 0")
			}
			hashes[i] = hashes[i-1]
			continue
		}
		if err := readElement(r, &hashes[i]); err != nil {
			return err
		}
	}
	il.Hashes = hashes
	return nil
}
