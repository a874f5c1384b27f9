package pcm

import (
	"encoding/binary"
	"io"
)

const wavHeaderSize = 44

// WriteWAV writes a canonical 44-byte RIFF header followed by little-endian PCM16 data.
func WriteWAV(w io.Writer, samples []int16, sampleRate int, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	data := Bytes(samples)

	if _, err := w.Write(wavHeader(len(data), sampleRate, channels)); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// PatchWAVSize rewrites the RIFF and data sizes of a header written with an unknown length.
func PatchWAVSize(w io.WriterAt, dataBytes int) error {
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(36+dataBytes))
	if _, err := w.WriteAt(size[:], 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(size[:], uint32(dataBytes))
	_, err := w.WriteAt(size[:], 40)
	return err
}

func wavHeader(dataBytes int, sampleRate int, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataBytes))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataBytes))
	return header
}
