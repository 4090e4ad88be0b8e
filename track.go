package caldera

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	// Top two bits of the leading message word. A value of 1 marks the blob
	// as a versioned networked message.
	trackMessageVersioned = 1

	trackFlagsShift = 30
	trackSizeMask   = 0x3FFFFFFF
)

// Track is a single playable item known to a remote node. The Encoded field
// is the authoritative handle and round-trips to the node unchanged.
type Track struct {
	Encoded string    `json:"track"`
	Info    TrackInfo `json:"info"`
}

// TrackInfo is the decoded metadata of a track.
type TrackInfo struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsSeekable bool   `json:"isSeekable"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	URI        string `json:"uri"`
	SourceName string `json:"source"`
}

// Duration returns the track length as a duration.
func (i TrackInfo) Duration() time.Duration {
	return time.Duration(i.Length) * time.Millisecond
}

// DecodeTrack decodes a base64 track handle into a Track. The input is
// retained verbatim in the returned Track's Encoded field.
//
// The binary layout is a big-endian message: a 4 byte flags+size word, a
// 1 byte version, then the version-dependent fields. Strings carry a 2 byte
// length prefix. Version 2 adds a URI field between the stream flag and the
// source name.
func DecodeTrack(encoded string) (*Track, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 track data: %w", err)
	}

	r := bytes.NewReader(data)

	var header uint32
	if err = binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read track header: %w", err)
	}

	if header>>trackFlagsShift != trackMessageVersioned {
		return nil, ErrInvalidTrackMagic
	}

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read track version: %w", err)
	}

	if version != 1 && version != 2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedTrackVersion, version)
	}

	var info TrackInfo

	if info.Title, err = readString(r); err != nil {
		return nil, fmt.Errorf("failed to read track title: %w", err)
	}

	if info.Author, err = readString(r); err != nil {
		return nil, fmt.Errorf("failed to read track author: %w", err)
	}

	var length uint64
	if err = binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read track length: %w", err)
	}

	info.Length = int64(length)

	if info.Identifier, err = readString(r); err != nil {
		return nil, fmt.Errorf("failed to read track identifier: %w", err)
	}

	isStream, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read track stream flag: %w", err)
	}

	info.IsStream = isStream == 1

	// The blob does not carry a seekable flag. Live streams are the only
	// unseekable sources.
	info.IsSeekable = !info.IsStream

	if version == 2 {
		if info.URI, err = readString(r); err != nil {
			return nil, fmt.Errorf("failed to read track uri: %w", err)
		}
	}

	if info.SourceName, err = readString(r); err != nil {
		return nil, fmt.Errorf("failed to read track source: %w", err)
	}

	return &Track{
		Encoded: encoded,
		Info:    info,
	}, nil
}

// EncodeTrack encodes track metadata into a version 2 base64 handle, the
// inverse of DecodeTrack.
func EncodeTrack(info TrackInfo) (string, error) {
	return encodeTrackVersion(info, 2)
}

func encodeTrackVersion(info TrackInfo, version byte) (string, error) {
	if version != 1 && version != 2 {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedTrackVersion, version)
	}

	var body bytes.Buffer

	body.WriteByte(version)

	if err := writeString(&body, info.Title); err != nil {
		return "", err
	}

	if err := writeString(&body, info.Author); err != nil {
		return "", err
	}

	_ = binary.Write(&body, binary.BigEndian, uint64(info.Length))

	if err := writeString(&body, info.Identifier); err != nil {
		return "", err
	}

	if info.IsStream {
		body.WriteByte(1)
	} else {
		body.WriteByte(0)
	}

	if version == 2 {
		if err := writeString(&body, info.URI); err != nil {
			return "", err
		}
	}

	if err := writeString(&body, info.SourceName); err != nil {
		return "", err
	}

	var out bytes.Buffer

	header := uint32(trackMessageVersioned)<<trackFlagsShift | uint32(body.Len())&trackSizeMask
	_ = binary.Write(&out, binary.BigEndian, header)
	out.Write(body.Bytes())

	return base64.StdEncoding.EncodeToString(out.Bytes()), nil
}

// readString reads a big-endian uint16 length-prefixed string.
func readString(r *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}

func writeString(w *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("string exceeds maximum encodable length: %d", len(s))
	}

	_ = binary.Write(w, binary.BigEndian, uint16(len(s)))
	w.WriteString(s)

	return nil
}
