package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epd7in3f/internal/config"
	"epd7in3f/internal/epd"
	"epd7in3f/internal/panel"
)

type fakeController struct {
	calls []string
	err   error
	last  epd.Framebuffer
}

func (f *fakeController) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) Clear(_ context.Context, c epd.Colour) error {
	if err := f.record("clear:" + c.String()); err != nil {
		return err
	}
	f.last = epd.NewFilledFramebuffer(c)
	return nil
}

func (f *fakeController) ShowTestPattern(context.Context) error { return f.record("pattern") }

func (f *fakeController) Display(_ context.Context, fb epd.Framebuffer) error {
	if err := f.record("display"); err != nil {
		return err
	}
	f.last = fb
	return nil
}

func (f *fakeController) Sleep(context.Context) error { return f.record("sleep") }

func (f *fakeController) Status() panel.Status {
	return panel.Status{State: "sleeping", Width: epd.Width, Height: epd.Height}
}

func (f *fakeController) LastFrame() (epd.Framebuffer, bool) {
	return f.last, f.last.Valid()
}

func newTestServer(t *testing.T, auth *config.BasicAuthConfig) (*fakeController, http.Handler) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BasicAuth = auth
	ctl := &fakeController{}
	return ctl, NewServer(cfg, ctl).Handler()
}

func do(h http.Handler, method, target string, body []byte, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, nil)
	rec := do(h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStatus(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, nil)
	rec := do(h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st panel.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "sleeping", st.State)
	assert.Equal(t, 800, st.Width)
}

func TestClear(t *testing.T) {
	t.Parallel()
	ctl, h := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/clear?colour=red", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/clear", nil).Code)
	rec := do(h, http.MethodPost, "/api/clear?colour=purple", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown colour")

	assert.Equal(t, []string{"clear:red", "clear:white"}, ctl.calls)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/api/clear", nil).Code)
}

func TestTestPatternAndSleep(t *testing.T) {
	t.Parallel()
	ctl, h := newTestServer(t, nil)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/test-pattern", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/sleep", nil).Code)
	assert.Equal(t, []string{"pattern", "sleep"}, ctl.calls)
}

func TestDisplayRaw(t *testing.T) {
	t.Parallel()
	ctl, h := newTestServer(t, nil)

	frame := bytes.Repeat([]byte{0x25}, epd.FrameSize)
	rec := do(h, http.MethodPost, "/api/display", frame, "Content-Type", "application/octet-stream")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, frame, ctl.last.Bytes())

	rec = do(h, http.MethodPost, "/api/display", frame[:1000])
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(h, http.MethodPost, "/api/display", append(frame, 0))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"display"}, ctl.calls)
}

func TestDisplayImage(t *testing.T) {
	t.Parallel()
	ctl, h := newTestServer(t, nil)

	img := image.NewNRGBA(image.Rect(0, 0, 40, 24))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:], []byte{0, 0, 0, 0xFF})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	rec := do(h, http.MethodPost, "/api/display", buf.Bytes(), "Content-Type", "image/png")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, epd.Black, ctl.last.Pixel(400, 240))
}

func TestDisplayImageErrors(t *testing.T) {
	t.Parallel()
	ctl, h := newTestServer(t, nil)

	rec := do(h, http.MethodPost, "/api/display", []byte("not an image"), "Content-Type", "image/png")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ctl.calls)

	tooBig := fmt.Errorf("convert: decode image: %w", &http.MaxBytesError{Limit: maxUploadBytes})
	assert.Equal(t, http.StatusRequestEntityTooLarge, decodeStatus(tooBig))
	assert.Equal(t, http.StatusBadRequest, decodeStatus(fmt.Errorf("convert: decode image: %w", image.ErrFormat)))
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		err  error
		want int
	}{
		{fmt.Errorf("epd: %w", epd.ErrBusyTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("epd: %w", epd.ErrSleeping), http.StatusConflict},
		{fmt.Errorf("epd: %w", epd.ErrInvalidState), http.StatusConflict},
		{fmt.Errorf("epd: %w", epd.ErrBusFault), http.StatusInternalServerError},
	} {
		ctl, h := newTestServer(t, nil)
		ctl.err = tc.err
		rec := do(h, http.MethodPost, "/api/test-pattern", nil)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.err.Error(), body["error"])
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	ctl, h := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/preview.png", nil).Code)

	ctl.last = epd.NewFilledFramebuffer(epd.Orange)
	rec := do(h, http.MethodGet, "/preview.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 800, 480), img.Bounds())
	got := color.NRGBAModel.Convert(img.At(10, 10)).(color.NRGBA)
	assert.Equal(t, color.NRGBA{0xE8, 0x7E, 0x00, 0xFF}, got)
}

func TestBasicAuth(t *testing.T) {
	t.Parallel()
	_, h := newTestServer(t, &config.BasicAuthConfig{Username: "admin", Password: "pw"})

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health", nil).Code)
	rec := do(h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "pw")
	ok := httptest.NewRecorder()
	h.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "wrong")
	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
}
