// Package audio holds the PCM16 plumbing shared by capture and playback.
package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dkeye/orbit/internal/domain"
)

// DefaultSampleRate applies to raw PCM payloads that carry no rate.
const DefaultSampleRate = 24000

var ErrBadAudio = errors.New("bad audio payload")

// EncodeWAV wraps mono 16-bit PCM in a RIFF/WAVE container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataLen)

	w := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	buf.WriteString("RIFF")
	w(uint32(36 + dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1)) // PCM
	w(uint16(1)) // mono
	w(uint32(sampleRate))
	w(uint32(sampleRate * 2))
	w(uint16(2))
	w(uint16(16))
	buf.WriteString("data")
	w(uint32(dataLen))
	w(samples)
	return buf.Bytes()
}

// DecodeBase64 decodes a provider audio payload: a WAV container or
// raw little-endian PCM16 at fallbackRate.
func DecodeBase64(data string, fallbackRate int) (domain.AudioClip, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return domain.AudioClip{}, fmt.Errorf("%w: base64: %v", ErrBadAudio, err)
	}
	return Decode(raw, fallbackRate)
}

func Decode(raw []byte, fallbackRate int) (domain.AudioClip, error) {
	if fallbackRate <= 0 {
		fallbackRate = DefaultSampleRate
	}
	if len(raw) >= 12 && string(raw[0:4]) == "RIFF" && string(raw[8:12]) == "WAVE" {
		return decodeWAV(raw)
	}
	if len(raw)%2 != 0 {
		return domain.AudioClip{}, fmt.Errorf("%w: odd pcm length %d", ErrBadAudio, len(raw))
	}
	return domain.AudioClip{Samples: PCM16(raw), SampleRate: fallbackRate}, nil
}

func decodeWAV(raw []byte) (domain.AudioClip, error) {
	var (
		channels   uint16
		sampleRate uint32
		bits       uint16
		haveFmt    bool
	)
	p := raw[12:]
	for len(p) >= 8 {
		id := string(p[0:4])
		size := int(binary.LittleEndian.Uint32(p[4:8]))
		p = p[8:]
		if size > len(p) {
			size = len(p)
		}
		body := p[:size]
		switch id {
		case "fmt ":
			if len(body) < 16 {
				return domain.AudioClip{}, fmt.Errorf("%w: short fmt chunk", ErrBadAudio)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return domain.AudioClip{}, fmt.Errorf("%w: unsupported format %d", ErrBadAudio, format)
			}
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bits = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return domain.AudioClip{}, fmt.Errorf("%w: data before fmt", ErrBadAudio)
			}
			if bits != 16 || channels == 0 {
				return domain.AudioClip{}, fmt.Errorf("%w: %d-bit %d-channel", ErrBadAudio, bits, channels)
			}
			return domain.AudioClip{
				Samples:    downmix(PCM16(body[:len(body)&^1]), int(channels)),
				SampleRate: int(sampleRate),
			}, nil
		}
		p = p[size:]
		if size%2 == 1 && len(p) > 0 {
			p = p[1:]
		}
	}
	return domain.AudioClip{}, fmt.Errorf("%w: no data chunk", ErrBadAudio)
}

// PCM16 reads little-endian samples; a trailing odd byte is ignored.
func PCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func downmix(s []int16, channels int) []int16 {
	if channels == 1 {
		return s
	}
	out := make([]int16, len(s)/channels)
	for i := range out {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(s[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Bytes encodes samples as little-endian PCM16.
func Bytes(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
