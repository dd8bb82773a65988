package gdvlhttp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"

	"github.com/tanq16/gdvl/internal/utils"
)

const defaultFilename = "download"

// DirectResolver serves plain http(s) URLs. The filename comes from
// Content-Disposition, then the URL path.
type DirectResolver struct {
	Config utils.HTTPClientConfig
}

func (r *DirectResolver) Resolve(ctx context.Context, locator string) (*utils.Resolution, error) {
	parsed, err := parseHTTPURL(locator)
	if err != nil {
		return nil, err
	}
	client := utils.NewGdvlHTTPClient(r.Config)
	defer client.CloseIdleConnections()
	desc, err := probeResource(ctx, client, locator)
	if errors.Is(err, ErrCanceled) {
		return nil, err
	}
	name := desc.Filename
	if name == "" {
		name = filenameFromURL(parsed)
	}
	return &utils.Resolution{URL: locator, Filename: name}, nil
}

func parseHTTPURL(link string) (*url.URL, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %v", utils.ErrUnsupportedLocator, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", utils.ErrUnsupportedLocator, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", utils.ErrUnsupportedLocator, link)
	}
	return parsed, nil
}

func filenameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return defaultFilename
	}
	return filenameRegex.ReplaceAllString(name, "_")
}
