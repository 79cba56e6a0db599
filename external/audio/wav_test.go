package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func writeWAV(t *testing.T, channels, sampleRate, bitsPerSample int) string {
	t.Helper()
	fmtBody := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtBody[0:2], 1)
	binary.LittleEndian.PutUint16(fmtBody[2:4], uint16(channels))
	binary.LittleEndian.PutUint32(fmtBody[4:8], uint32(sampleRate))
	binary.LittleEndian.PutUint16(fmtBody[14:16], uint16(bitsPerSample))

	data := []byte{0, 0, 0, 0}
	var buf []byte
	buf = append(buf, "RIFF"...)
	buf = append(buf, make([]byte, 4)...)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16)
	buf = append(buf, fmtBody...)
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-8))

	path := filepath.Join(t.TempDir(), "probe.wav")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write wav fixture: %v", err)
	}
	return path
}

func TestInspectWAV(t *testing.T) {
	path := writeWAV(t, 2, 44100, 16)

	info, err := NewWAVInspector().Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.Filetype != "wav" {
		t.Errorf("filetype = %q, want wav", info.Filetype)
	}
	if info.Channels != 2 || info.SamplesPerSecond != 44100 || info.BitsPerSample != 16 {
		t.Errorf("unexpected format: %+v", info)
	}
}

func TestInspectMP3Magic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.mp3")
	payload := append([]byte("ID3"), make([]byte, 32)...)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write mp3 fixture: %v", err)
	}

	info, err := NewWAVInspector().Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.Filetype != "mp3" {
		t.Errorf("filetype = %q, want mp3", info.Filetype)
	}
}

func TestInspectUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello world, not audio"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	info, err := NewWAVInspector().Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.Filetype != "unknown" {
		t.Errorf("filetype = %q, want unknown", info.Filetype)
	}
}
