package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivore/mirror/internal/assets"
	"github.com/archivore/mirror/pkg/types"
)

type fakeDriver struct {
	html         string
	navStatus    int
	navErr       error
	requestHook  func(RequestInfo) bool
	responseHook func(ResponseInfo, func() ([]byte, error))
	closed       bool
}

func (f *fakeDriver) Navigate(ctx context.Context, url string, waitUntil string, timeout int64) (int, string, error) {
	if f.navErr != nil {
		return 0, "", f.navErr
	}
	return f.navStatus, url, nil
}

func (f *fakeDriver) Evaluate(ctx context.Context, script string, out interface{}) error {
	return nil
}

func (f *fakeDriver) Content(ctx context.Context) (string, error) {
	return f.html, nil
}

func (f *fakeDriver) OnRequest(hook func(RequestInfo) bool) { f.requestHook = hook }

func (f *fakeDriver) OnResponse(hook func(ResponseInfo, func() ([]byte, error))) {
	f.responseHook = hook
}

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

type fakeResolver struct{}

func (fakeResolver) IsSameSite(absURL string) bool            { return true }
func (fakeResolver) MirrorCrossOrigin() bool                  { return false }
func (fakeResolver) PreserveAssetPaths() bool                 { return false }
func (fakeResolver) ResolvePageHref(absURL string) (string, bool) { return "", false }

func TestCaptureProfile_SuccessWritesIndexHTMLAndJSON(t *testing.T) {
	dir := t.TempDir()
	driver := &fakeDriver{html: `<html><head></head><body><img src="/a.png"></body></html>`, navStatus: 200}
	store := assets.NewStore(dir, 10<<20, 1<<10, nil)

	req := Request{
		URL:        "https://example.com/catalog/shoes",
		OutRoot:    dir,
		Rel:        "catalog/shoes",
		Profile:    types.DeviceProfile{Name: "desktop"},
		AssetIndex: store,
		Driver:     driver,
		Resolver:   fakeResolver{},
		Config: EngineConfig{
			QuietMillis:  10,
			MaxCaptureMs: 200,
		},
	}

	rec := CaptureProfile(context.Background(), req)

	assert.Equal(t, types.StatusOK, rec.Status)
	assert.True(t, driver.closed)

	indexPath := filepath.Join(dir, "catalog/shoes/desktop/index.html")
	_, err := os.Stat(indexPath)
	require.NoError(t, err)

	jsonPath := filepath.Join(dir, "catalog/shoes/desktop/index.json")
	_, err = os.Stat(jsonPath)
	require.NoError(t, err)

	stubPath := filepath.Join(dir, "catalog/shoes/index.html")
	_, err = os.Stat(stubPath)
	require.NoError(t, err)
}

func TestCaptureProfile_NavigationFailureFallsBackToRaw(t *testing.T) {
	dir := t.TempDir()
	driver := &fakeDriver{navErr: assertErr("boom")}
	store := assets.NewStore(dir, 10<<20, 1<<10, nil)

	req := Request{
		URL:        "http://127.0.0.1:1",
		OutRoot:    dir,
		Rel:        "unreachable",
		Profile:    types.DeviceProfile{Name: "desktop"},
		AssetIndex: store,
		Driver:     driver,
		Resolver:   fakeResolver{},
		Config:     EngineConfig{QuietMillis: 10, MaxCaptureMs: 200},
	}

	rec := CaptureProfile(context.Background(), req)

	assert.Contains(t, rec.Status, "error:raw")
	assert.True(t, driver.closed)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
