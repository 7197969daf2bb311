// Package codec encodes operations and messages in XDR.
package codec

import (
	"errors"
	"fmt"

	"github.com/davecgh/go-xdr/xdr"

	"aggtree/models"
)

// ContentType is the media type used for XDR bodies over HTTP
const ContentType = "application/xdr"

var ErrTrailingData = errors.New("trailing data after xdr value")

func EncodeOperation(op models.Operation) ([]byte, error) {
	return xdr.Marshal(op)
}

func DecodeOperation(data []byte) (models.Operation, error) {
	var op models.Operation
	if err := decode(data, &op); err != nil {
		return models.Operation{}, fmt.Errorf("decode operation: %w", err)
	}
	return op, nil
}

func EncodeMessage(msg models.Message) ([]byte, error) {
	return xdr.Marshal(msg)
}

func DecodeMessage(data []byte) (models.Message, error) {
	var msg models.Message
	if err := decode(data, &msg); err != nil {
		return models.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

func decode(data []byte, v interface{}) error {
	rest, err := xdr.Unmarshal(data, v)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingData, len(rest))
	}
	return nil
}
