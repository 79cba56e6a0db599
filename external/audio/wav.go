package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/transkriptor/backend/internal/audio"
)

// WAVInspector probes file headers to decide whether an upload needs
// conversion before recognition. Only the RIFF fmt chunk and the common MP3
// magics are understood; anything else reports filetype "unknown".
type WAVInspector struct{}

func NewWAVInspector() audio.Inspector {
	return &WAVInspector{}
}

func (WAVInspector) Inspect(path string) (audio.Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Info{}, err
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return audio.Info{}, fmt.Errorf("read audio header: %w", err)
	}

	if bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")) {
		return inspectWAV(f)
	}
	if isMP3Magic(header) {
		return audio.Info{Filetype: "mp3"}, nil
	}
	return audio.Info{Filetype: "unknown"}, nil
}

func inspectWAV(f *os.File) (audio.Info, error) {
	// Walk the chunk list; fmt is not guaranteed to be first.
	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(f, chunkHeader); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return audio.Info{}, fmt.Errorf("wav file has no fmt chunk")
			}
			return audio.Info{}, err
		}
		id := string(chunkHeader[0:4])
		size := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))
		if id != "fmt " {
			skip := size
			if size%2 == 1 {
				skip++
			}
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return audio.Info{}, err
			}
			continue
		}
		if size < 16 {
			return audio.Info{}, fmt.Errorf("wav fmt chunk truncated (%d bytes)", size)
		}
		body := make([]byte, 16)
		if _, err := io.ReadFull(f, body); err != nil {
			return audio.Info{}, err
		}
		return audio.Info{
			Filetype:         "wav",
			Channels:         int(binary.LittleEndian.Uint16(body[2:4])),
			SamplesPerSecond: int(binary.LittleEndian.Uint32(body[4:8])),
			BitsPerSample:    int(binary.LittleEndian.Uint16(body[14:16])),
		}, nil
	}
}

func isMP3Magic(header []byte) bool {
	if bytes.Equal(header[0:3], []byte("ID3")) {
		return true
	}
	// Bare MPEG frame sync: 11 set bits.
	return header[0] == 0xFF && header[1]&0xE0 == 0xE0
}
