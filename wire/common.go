package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/MonteCarloClub/plutonium/chaincfg/chainhash"
)

// bigEndian is a convenience variable since nimiq serializes every integer
// in network byte order.
var bigEndian = binary.BigEndian

// readElement reads the next sequence of bytes from r using big endian
// depending on the concrete type of element pointed to.
func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = b[0]
		return nil

	case *uint16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = bigEndian.Uint16(b[:])
		return nil

	case *uint32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = bigEndian.Uint32(b[:])
		return nil

	case *chainhash.Hash:
		_, err := io.ReadFull(r, e[:])
		return err
	}

	return fmt.Errorf("readElement: unsupported type %T", element)
}

// readElements reads multiple items from r.  It is equivalent to multiple
// calls to readElement.
func readElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		err := readElement(r, element)
		if err != nil {
			return err
		}
	}
	return nil
}

// writeElement writes the big endian representation of element to w.
func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case uint8:
		_, err := w.Write([]byte{e})
		return err

	case uint16:
		var b [2]byte
		bigEndian.PutUint16(b[:], e)
		_, err := w.Write(b[:])
		return err

	case uint32:
		var b [4]byte
		bigEndian.PutUint32(b[:], e)
		_, err := w.Write(b[:])
		return err

	case *chainhash.Hash:
		_, err := w.Write(e[:])
		return err
	}

	return fmt.Errorf("writeElement: unsupported type %T", element)
}

// writeElements writes multiple items to w.  It is equivalent to multiple
// calls to writeElement.
func writeElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		err := writeElement(w, element)
		if err != nil {
			return err
		}
	}
	return nil
}
