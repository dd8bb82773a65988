package gdvlhttp

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/gdvl/internal/utils"
)

// ResourceDescriptor is what one probe learned about the remote resource.
// TotalSize is 0 when the size could not be determined.
type ResourceDescriptor struct {
	URL            string
	TotalSize      int64
	SupportsRanges bool
	Filename       string
}

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// probeResource asks for size and range support with a HEAD, then with a
// two-byte ranged GET when HEAD leaves either unanswered. The descriptor is
// always usable; a non-nil error explains why it is incomplete.
func probeResource(ctx context.Context, client utils.HTTPDoer, link string) (*ResourceDescriptor, error) {
	desc := &ResourceDescriptor{URL: link}

	headErr := probeHead(ctx, client, desc)
	if ctx.Err() != nil {
		return desc, classify(ctx, ErrProbeFailed, ctx.Err())
	}
	if headErr == nil && desc.TotalSize > 0 && desc.SupportsRanges {
		return desc, nil
	}
	if headErr != nil {
		log.Debug().Str("op", "http/probe").Err(headErr).Msg("HEAD probe incomplete, trying ranged GET")
	}

	getErr := probeRangedGet(ctx, client, desc)
	if ctx.Err() != nil {
		return desc, classify(ctx, ErrProbeFailed, ctx.Err())
	}
	if desc.TotalSize <= 0 {
		desc.TotalSize = 0
		cause := getErr
		if cause == nil {
			cause = headErr
		}
		if cause == nil {
			cause = fmt.Errorf("server did not report a size")
		}
		return desc, fmt.Errorf("%w: %w", ErrProbeFailed, cause)
	}
	return desc, nil
}

func probeHead(ctx context.Context, client utils.HTTPDoer, desc *ResourceDescriptor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, desc.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HEAD returned status %d", resp.StatusCode)
	}
	desc.Filename = filenameFromResponse(resp)
	desc.SupportsRanges = strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
	if resp.ContentLength > 0 {
		desc.TotalSize = resp.ContentLength
	}
	return nil
}

func probeRangedGet(ctx context.Context, client utils.HTTPDoer, desc *ResourceDescriptor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-1")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
	}()
	if desc.Filename == "" {
		desc.Filename = filenameFromResponse(resp)
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		_, _, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return err
		}
		desc.SupportsRanges = true
		if total > 0 {
			desc.TotalSize = total
		}
		return nil
	case http.StatusOK:
		// Range ignored; the size is still good for verification.
		desc.SupportsRanges = false
		if resp.ContentLength > 0 {
			desc.TotalSize = resp.ContentLength
		}
		return nil
	default:
		return fmt.Errorf("ranged GET returned status %d", resp.StatusCode)
	}
}

func filenameFromResponse(resp *http.Response) string {
	contentDisposition := resp.Header.Get("Content-Disposition")
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		return filenameRegex.ReplaceAllString(unescaped, "_")
	}
	return ""
}

// parseContentRange reads "bytes start-end/total". Total is -1 for "*".
func parseContentRange(header string) (start, end, total int64, err error) {
	if header == "" {
		return 0, 0, 0, fmt.Errorf("missing Content-Range header")
	}
	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", header)
	}
	span, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", header)
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", header)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range start: %w", err)
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range end: %w", err)
	}
	if size == "*" {
		return start, end, -1, nil
	}
	if total, err = strconv.ParseInt(size, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range total: %w", err)
	}
	return start, end, total, nil
}
