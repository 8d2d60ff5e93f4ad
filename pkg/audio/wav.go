package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const wavBitsPerSample = 16

// EncodeWAV wraps mono float32 samples as 16-bit PCM in a standard 44-byte
// RIFF/WAVE container, suitable for multipart uploads to transcription
// servers.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := Float32ToPCM16(samples)
	const channels = 1
	byteRate := sampleRate * channels * wavBitsPerSample / 8
	blockAlign := channels * wavBitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM sub-chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], wavBitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a 16-bit PCM RIFF/WAVE container and returns its samples
// downmixed to mono together with the original format. Chunks are walked
// rather than assuming a fixed 44-byte header, so files with LIST or fact
// chunks decode correctly.
func DecodeWAV(wav []byte) ([]float32, Format, error) {
	if len(wav) < 12 {
		return nil, Format{}, errors.New("wav: too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, errors.New("wav: missing RIFF/WAVE header")
	}

	var (
		format   Format
		bits     int
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return nil, Format{}, errors.New("wav: truncated fmt chunk")
			}
			if tag := binary.LittleEndian.Uint16(wav[body : body+2]); tag != 1 {
				return nil, Format{}, fmt.Errorf("wav: unsupported audio format %d (want PCM)", tag)
			}
			format.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(wav[body+14 : body+16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return nil, Format{}, errors.New("wav: data chunk before fmt chunk")
			}
			if bits != wavBitsPerSample {
				return nil, Format{}, fmt.Errorf("wav: unsupported bit depth %d (want 16)", bits)
			}
			end := min(body+size, len(wav))
			samples := PCM16ToFloat32(wav[body:end])
			return DownmixToMono(samples, format.Channels), format, nil
		}

		// Chunks are word-aligned.
		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return nil, Format{}, errors.New("wav: missing data chunk")
}
