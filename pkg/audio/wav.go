package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero/mem"
)

const (
	wavBitDepth  = 16
	wavFormatPCM = 1
)

// WriteWAV encodes mono 16-bit samples as a RIFF/WAV stream to w.
func WriteWAV(w io.WriteSeeker, samples []int16, sampleRate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}

	enc := wav.NewEncoder(w, sampleRate, wavBitDepth, 1, wavFormatPCM)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalize wav: %w", err)
	}
	return nil
}

// EncodeWAV returns samples as an in-memory WAV file, ready for an upload.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	f := mem.NewFileHandle(mem.CreateFile("utterance.wav"))
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("audio: rewind wav: %w", err)
	}
	out, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("audio: read wav: %w", err)
	}
	return out, nil
}

// DecodeWAV reads a PCM WAV file and returns its samples downmixed to mono
// and resampled to sampleRate. A sampleRate of zero keeps the file's rate.
// It returns the resulting rate alongside the samples.
func DecodeWAV(r io.ReadSeeker, sampleRate int) ([]int16, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("audio: not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, 0, errors.New("audio: wav file has no format")
	}

	depth := int(dec.SampleBitDepth())
	shift := depth - wavBitDepth
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		if depth == 8 {
			// 8-bit WAV is unsigned, centred on 128.
			v -= 128
		}
		switch {
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		samples[i] = clamp16(int32(v))
	}

	samples = DownmixInt16(samples, buf.Format.NumChannels)
	rate := buf.Format.SampleRate
	if sampleRate > 0 && sampleRate != rate {
		if samples, err = ResampleInt16(samples, rate, sampleRate); err != nil {
			return nil, 0, err
		}
		rate = sampleRate
	}
	return samples, rate, nil
}
