// SPDX-License-Identifier: EPL-2.0

package wav

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the size of the canonical PCM header written by Header.
const HeaderSize = 44

// Header builds the canonical 44-byte header for dataLen bytes of PCM.
func Header(dataLen, sampleRate, bitDepth, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 || bitDepth <= 0 || bitDepth%8 != 0 || dataLen < 0 {
		return nil, ErrInvalidHeaderParams
	}

	blockAlign := channels * bitDepth / 8
	byteRate := sampleRate * blockAlign

	header := make([]byte, HeaderSize)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], formatPCM)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitDepth))

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	return header, nil
}

// WrapPCM returns a new slice holding the header followed by pcm.
func WrapPCM(pcm []byte, sampleRate, bitDepth, channels int) ([]byte, error) {
	header, err := Header(len(pcm), sampleRate, bitDepth, channels)
	if err != nil {
		return nil, err
	}

	out := make([]byte, HeaderSize+len(pcm))
	copy(out, header)
	copy(out[HeaderSize:], pcm)
	return out, nil
}

// WriteWAV16 writes a mono 16-bit PCM WAV at sampleRate.
func WriteWAV16(w io.Writer, sampleRate int, samples []int16) error {
	header, err := Header(len(samples)*2, sampleRate, 16, 1)
	if err != nil {
		return err
	}

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("%w", err)
	}

	const chunkSize = 8192
	if len(samples) == 0 {
		return nil
	}

	buf := make([]byte, min(len(samples), chunkSize)*2)
	for i := 0; i < len(samples); i += chunkSize {
		chunk := samples[i:min(i+chunkSize, len(samples))]
		buf = buf[:len(chunk)*2]

		for j, s := range chunk {
			binary.LittleEndian.PutUint16(buf[j*2:], uint16(s))
		}

		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("%w", err)
		}
	}

	return nil
}
