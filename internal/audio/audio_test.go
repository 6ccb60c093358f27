package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func sine(sampleRate int, freq float64, dur time.Duration, amp float64) []byte {
	n := int(float64(sampleRate) * dur.Seconds())
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		s := int16(v * 32767)
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := sine(16000, 440, 100*time.Millisecond, 0.5)
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE: %v", err)
	}
	if got := len(wav); got != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", got, 44+len(pcm))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) {
		t.Fatalf("missing RIFF magic, got %q", wav[0:4])
	}
	if !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatalf("missing WAVE magic, got %q", wav[8:12])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Fatalf("data size = %d, want %d", size, len(pcm))
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatal("payload does not match input PCM")
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
	silence := make([]byte, 3200)
	if got := RMS(silence); got != 0 {
		t.Fatalf("RMS(silence) = %v, want 0", got)
	}
	loud := sine(16000, 440, 100*time.Millisecond, 0.8)
	if got := RMS(loud); got < 0.4 {
		t.Fatalf("RMS(loud sine) = %v, want >= 0.4", got)
	}
}

func TestSpeechDuration(t *testing.T) {
	const rate = 16000
	voiced := sine(rate, 300, 500*time.Millisecond, 0.6)
	silence := make([]byte, rate/5*2) // 200ms
	buf := append(append([]byte{}, silence...), voiced...)

	got := SpeechDuration(buf, rate, 0.02)
	if got < 400*time.Millisecond || got > 600*time.Millisecond {
		t.Fatalf("SpeechDuration = %v, want about 500ms", got)
	}
	if got := SpeechDuration(silence, rate, 0.02); got != 0 {
		t.Fatalf("SpeechDuration(silence) = %v, want 0", got)
	}
}

func TestTrailingSilence(t *testing.T) {
	const rate = 16000
	voiced := sine(rate, 300, 300*time.Millisecond, 0.6)
	silence := make([]byte, rate/10*2*4) // 400ms
	buf := append(append([]byte{}, voiced...), silence...)

	got := TrailingSilence(buf, rate, 0.02)
	if got < 350*time.Millisecond || got > 450*time.Millisecond {
		t.Fatalf("TrailingSilence = %v, want about 400ms", got)
	}
	if got := TrailingSilence(voiced, rate, 0.02); got != 0 {
		t.Fatalf("TrailingSilence(voiced) = %v, want 0", got)
	}
}

func TestDuration(t *testing.T) {
	pcm := make([]byte, 16000*2) // one second at 16k
	if got := Duration(pcm, 16000); got != time.Second {
		t.Fatalf("Duration = %v, want 1s", got)
	}
}
