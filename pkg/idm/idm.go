// Package idm encodes commands for iDotMatrix LED panels.
//
// Commands are plain byte strings written to the panel's write
// characteristic. Multi-byte integers are little-endian.
package idm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// GATT identifiers and discovery defaults.
var (
	ServiceUUID   = uuid.MustParse("000000fa-0000-1000-8000-00805f9b34fb")
	WriteCharUUID = uuid.MustParse("0000fa02-0000-1000-8000-00805f9b34fb")
)

// DefaultNameFilter matches the advertised name of iDotMatrix panels.
const DefaultNameFilter = "IDM"

// Wire constants.
const (
	// BlockSize is the largest image slice the panel accepts per header.
	BlockSize = 4096

	// HeaderSize is the per-block header length.
	HeaderSize = 9

	// MaxPayload is the largest image the u32 length field can describe.
	MaxPayload = math.MaxUint32

	imageModeLen = 5

	blockFirst        = 0x00
	blockContinuation = 0x02
)

// Sentinel errors for common conditions.
var (
	ErrPayloadTooLarge = errors.New("idm: payload too large")
	ErrEmptyPayload    = errors.New("idm: empty image payload")
	ErrMalformed       = errors.New("idm: malformed command")
)

// Kind identifies a command.
type Kind uint8

const (
	KindImageMode Kind = iota + 1
	KindUploadImage
)

// String returns the command name.
func (k Kind) String() string {
	switch k {
	case KindImageMode:
		return "image_mode"
	case KindUploadImage:
		return "upload_image"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Command is one panel command.
type Command struct {
	Kind Kind

	// Mode is the display mode for KindImageMode.
	Mode uint8

	// Payload is the encoded image for KindUploadImage.
	Payload []byte
}

// ImageMode switches the panel into image display mode. Mode 1 shows
// uploaded images.
func ImageMode(mode uint8) Command {
	return Command{Kind: KindImageMode, Mode: mode}
}

// UploadImage carries an encoded image (PNG) for the panel to show.
func UploadImage(image []byte) (Command, error) {
	if len(image) == 0 {
		return Command{}, ErrEmptyPayload
	}
	if uint64(len(image)) > MaxPayload {
		return Command{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(image))
	}
	return Command{Kind: KindUploadImage, Payload: image}, nil
}

// EncodedLen returns the serialized size of the command.
func (c Command) EncodedLen() int {
	switch c.Kind {
	case KindImageMode:
		return imageModeLen
	case KindUploadImage:
		blocks := (len(c.Payload) + BlockSize - 1) / BlockSize
		return len(c.Payload) + blocks*HeaderSize
	}
	return 0
}

// Bytes serializes the command. The output depends only on the command.
func (c Command) Bytes() ([]byte, error) {
	switch c.Kind {
	case KindImageMode:
		return []byte{0x05, 0x00, 0x04, 0x01, c.Mode}, nil

	case KindUploadImage:
		if len(c.Payload) == 0 {
			return nil, ErrEmptyPayload
		}
		if uint64(len(c.Payload)) > MaxPayload {
			return nil, ErrPayloadTooLarge
		}
		out := make([]byte, 0, c.EncodedLen())
		total := uint32(len(c.Payload))
		for off := 0; off < len(c.Payload); off += BlockSize {
			block := c.Payload[off:min(off+BlockSize, len(c.Payload))]
			flag := byte(blockFirst)
			if off > 0 {
				flag = blockContinuation
			}
			out = binary.LittleEndian.AppendUint16(out, uint16(len(block)+HeaderSize))
			out = append(out, 0x02, 0x00, flag)
			out = binary.LittleEndian.AppendUint32(out, total)
			out = append(out, block...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %s", ErrMalformed, c.Kind)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (c Command) MarshalBinary() ([]byte, error) {
	return c.Bytes()
}

// Decode parses one serialized command, reassembling multi-block uploads.
func Decode(data []byte) (Command, error) {
	if len(data) == imageModeLen && data[0] == 0x05 && data[1] == 0x00 && data[2] == 0x04 && data[3] == 0x01 {
		return ImageMode(data[4]), nil
	}

	var (
		payload []byte
		total   uint32
	)
	for off := 0; off < len(data); {
		if len(data)-off < HeaderSize {
			return Command{}, fmt.Errorf("%w: truncated header at %d", ErrMalformed, off)
		}
		h := data[off : off+HeaderSize]
		blockLen := int(binary.LittleEndian.Uint16(h[0:2]))
		if h[2] != 0x02 || h[3] != 0x00 || blockLen <= HeaderSize || off+blockLen > len(data) {
			return Command{}, fmt.Errorf("%w: bad block header at %d", ErrMalformed, off)
		}

		wantFlag := byte(blockContinuation)
		if off == 0 {
			wantFlag = blockFirst
			total = binary.LittleEndian.Uint32(h[5:9])
			payload = make([]byte, 0, int(min(uint64(total), uint64(len(data)))))
		} else if binary.LittleEndian.Uint32(h[5:9]) != total {
			return Command{}, fmt.Errorf("%w: length mismatch at %d", ErrMalformed, off)
		}
		if h[4] != wantFlag {
			return Command{}, fmt.Errorf("%w: unexpected block flag %#x at %d", ErrMalformed, h[4], off)
		}

		payload = append(payload, data[off+HeaderSize:off+blockLen]...)
		off += blockLen
	}

	if len(payload) == 0 || uint32(len(payload)) != total {
		return Command{}, fmt.Errorf("%w: got %d of %d payload bytes", ErrMalformed, len(payload), total)
	}
	return Command{Kind: KindUploadImage, Payload: payload}, nil
}
