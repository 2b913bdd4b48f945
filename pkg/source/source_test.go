package source

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeY4M makes a w x h stream with frames filled by their index.
func writeY4M(t *testing.T, w, h, frames int, rate string) string {
	t.Helper()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "YUV4MPEG2 W%d H%d F%s Ip A1:1 C420jpeg\n", w, h, rate)
	cw, ch := (w+1)/2, (h+1)/2
	for i := 0; i < frames; i++ {
		buf.WriteString("FRAME\n")
		buf.Write(bytes.Repeat([]byte{byte(i)}, w*h+2*cw*ch))
	}
	path := filepath.Join(t.TempDir(), "test.y4m")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeIVF makes a motion JPEG stream, the luma of frame i is about i*20.
func writeIVF(t *testing.T, fourcc string, w, h, frames int) string {
	t.Helper()
	var buf bytes.Buffer
	hdr := make([]byte, 32)
	copy(hdr, "DKIF")
	binary.LittleEndian.PutUint16(hdr[6:], 32)
	copy(hdr[8:], fourcc)
	binary.LittleEndian.PutUint16(hdr[12:], uint16(w))
	binary.LittleEndian.PutUint16(hdr[14:], uint16(h))
	binary.LittleEndian.PutUint32(hdr[16:], 10)
	binary.LittleEndian.PutUint32(hdr[20:], 1)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(frames))
	buf.Write(hdr)

	for i := 0; i < frames; i++ {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for p := range img.Pix {
			img.Pix[p] = uint8(i * 20)
		}
		var pic bytes.Buffer
		if err := jpeg.Encode(&pic, img, &jpeg.Options{Quality: 100}); err != nil {
			t.Fatal(err)
		}
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh, uint32(pic.Len()))
		binary.LittleEndian.PutUint64(fh[4:], uint64(i))
		buf.Write(fh)
		buf.Write(pic.Bytes())
	}
	path := filepath.Join(t.TempDir(), "test.ivf")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenRegistry(t *testing.T) {
	if _, err := Open(""); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("empty path: %v", err)
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.y4m")); !errors.Is(err, ErrInternal) {
		t.Errorf("missing file: %v", err)
	}

	Register(".fake", func(string) (Source, error) { return nil, ErrUnsupportedMedia })
	if _, err := Open("a.FAKE"); !errors.Is(err, ErrUnsupportedMedia) {
		t.Errorf("custom opener was not used: %v", err)
	}
	found := false
	for _, ext := range Formats() {
		found = found || ext == ".y4m"
	}
	if !found {
		t.Errorf("y4m is not registered: %v", Formats())
	}
}

func TestRational(t *testing.T) {
	r := Rational{Num: 30000, Den: 1001}
	if ft := r.FrameTime(); ft != 33366666*time.Nanosecond {
		t.Errorf("frame time %v", ft)
	}
	if pts := r.Nth(30000); pts != 1001*time.Second {
		t.Errorf("pts %v", pts)
	}
	if (Rational{}).FrameTime() != 0 {
		t.Errorf("invalid rate has a frame time")
	}
}

func TestY4M(t *testing.T) {
	src, err := Open(writeY4M(t, 6, 4, 5, "10:1"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = src.Close() }()

	st, err := src.StreamType(0)
	if err != nil {
		t.Fatal(err)
	}
	if st.Resolution != (Resolution{6, 4}) || st.FrameRate.FrameTime() != 100*time.Millisecond {
		t.Errorf("wrong stream %+v", st)
	}
	if _, err := src.Resolution(1); !errors.Is(err, ErrIndexOutOfBounds) {
		t.Errorf("stream 1: %v", err)
	}
	if _, err := src.Iterator(Audio, 0); !errors.Is(err, ErrUnsupportedMedia) {
		t.Errorf("audio: %v", err)
	}

	it, err := src.Iterator(Video, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = it.Close() }()

	for i := 0; i < 5; i++ {
		if i == 2 {
			if err := it.SkipFrame(); err != nil {
				t.Fatal(err)
			}
			continue
		}
		f, md, err := it.Next()
		if err != nil {
			t.Fatalf("frame %v: %v", i, err)
		}
		if md.Index != int64(i) || md.PTS != time.Duration(i)*100*time.Millisecond || f.PTS != md.PTS {
			t.Errorf("frame %v: wrong metadata %+v", i, md)
		}
		if f.Pix[0] != byte(i) || f.Pix[len(f.Pix)-1] != byte(i) {
			t.Errorf("frame %v: wrong content %v", i, f.Pix[0])
		}
	}
	if _, _, err := it.Next(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("expected the end, got %v", err)
	}

	// backward then forward
	if err := it.SeekTo(150 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, md, _ := it.Next(); md.Index != 2 {
		t.Errorf("seek to 150ms gave frame %v", md.Index)
	}
	if err := it.SeekTo(400 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, md, _ := it.Next(); md.Index != 4 {
		t.Errorf("seek to 400ms gave frame %v", md.Index)
	}
	if err := it.SeekTo(time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, _, err := it.Next(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("seek past the end: %v", err)
	}
}

func TestY4MBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     error
	}{
		{name: "magic", content: "MPEG W2 H2 F1:1\n", err: ErrInvalidParameter},
		{name: "no size", content: "YUV4MPEG2 F1:1\n", err: ErrInvalidParameter},
		{name: "rate", content: "YUV4MPEG2 W2 H2 F25\n", err: ErrInvalidParameter},
		{name: "colorspace", content: "YUV4MPEG2 W2 H2 F25:1 C444\n", err: ErrUnsupportedMedia},
		{name: "no header", content: "", err: ErrInvalidParameter},
	}
	for _, test := range tests {
		path := filepath.Join(t.TempDir(), test.name+".y4m")
		_ = os.WriteFile(path, []byte(test.content), 0644)
		if _, err := OpenY4M(path); !errors.Is(err, test.err) {
			t.Errorf("%v: expected %v, got %v", test.name, test.err, err)
		}
	}
}

func TestY4MTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cut.y4m")
	_ = os.WriteFile(path, []byte("YUV4MPEG2 W2 H2 F1:1\nFRAME\n\x01\x02"), 0644)
	src, err := OpenY4M(path)
	if err != nil {
		t.Fatal(err)
	}
	it, _ := src.Iterator(Video, 0)
	defer func() { _ = it.Close() }()
	if _, _, err := it.Next(); !errors.Is(err, ErrInternal) {
		t.Errorf("expected an internal error, got %v", err)
	}
}

func TestIVF(t *testing.T) {
	src, err := Open(writeIVF(t, FourccMJPEG, 16, 8, 4))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = src.Close() }()

	st, _ := src.StreamType(0)
	if st.Resolution != (Resolution{16, 8}) || st.FrameRate != (Rational{10, 1}) {
		t.Errorf("wrong stream %+v", st)
	}
	if n := src.(*IVF).Frames(); n != 4 {
		t.Errorf("frames %v", n)
	}

	it, err := src.Iterator(Video, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = it.Close() }()

	f, md, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if md.PTS != 0 || f.W != 16 || f.H != 8 {
		t.Errorf("first frame %v %+v", f, md)
	}
	if err := it.SkipFrame(); err != nil {
		t.Fatal(err)
	}
	f, md, _ = it.Next()
	if md.Index != 2 || md.PTS != 200*time.Millisecond {
		t.Errorf("third frame %+v", md)
	}
	if c := color.GrayModel.Convert(f.Image().At(3, 3)).(color.Gray); c.Y < 38 || c.Y > 42 {
		t.Errorf("third frame luma %v", c.Y)
	}

	if err := it.SeekTo(100 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, md, _ = it.Next(); md.PTS != 100*time.Millisecond {
		t.Errorf("seek back gave %v", md.PTS)
	}
	if err := it.SeekTo(300 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, md, _ = it.Next(); md.PTS != 300*time.Millisecond {
		t.Errorf("seek forward gave %v", md.PTS)
	}
	if _, _, err := it.Next(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("expected the end, got %v", err)
	}
}

func TestIVFUnsupportedCodec(t *testing.T) {
	if _, err := OpenIVF(writeIVF(t, "VP80", 16, 8, 1)); !errors.Is(err, ErrUnsupportedMedia) {
		t.Errorf("expected unsupported media, got %v", err)
	}
}
