// Package face talks to face recognition backend and defines camera capture contract.
package face

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/log2"
)

const (
	DefaultTimeout = 60 * time.Second
	MaxAttempts    = 10

	pathImagesExist = "/face/getuserimageexists/"
	pathUpload      = "/face/createimagetrainingusernew/"
	pathVerify      = "/face/createlogusersmartnew/"
)

var ErrIncomplete = errors.New("face verify incomplete response")

type Config struct {
	BaseURL    string `hcl:"base_url"`
	TimeoutSec int    `hcl:"timeout_sec"`
	TempDir    string `hcl:"temp_dir"`
}

// StatusError is unexpected HTTP status from backend.
type StatusError struct {
	Code int
	Body string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("face backend status=%d body=%s", e.Code, e.Body)
}

func IsStatus(err error, code int) bool {
	se, ok := errors.Cause(err).(StatusError)
	return ok && se.Code == code
}

// Capturer takes verified face images into dir.
// Empty result without error means user cancelled.
type Capturer interface {
	CaptureBatch(ctx context.Context, dir, username string, n int) ([]string, error)
	CaptureOne(ctx context.Context, dir string) (string, error)
}

type UploadResult struct {
	Message string
	Count   int
}

type VerifyResult struct {
	Status     string
	Confidence string
	UserID     string
	LogID      string
	AccessTime string
}

func (r VerifyResult) Authorized() bool { return strings.EqualFold(r.Status, "authorized") }

type API struct {
	log  *log2.Log
	base string
	hc   *http.Client
}

func NewAPI(log *log2.Log, c Config, rt http.RoundTripper) (*API, error) {
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return nil, errors.Annotatef(err, "face.base_url=%s", c.BaseURL)
	}
	return &API{
		log:  log,
		base: strings.TrimRight(c.BaseURL, "/"),
		hc: &http.Client{
			Transport: rt,
			Timeout:   helpers.IntSecondDefault(c.TimeoutSec, DefaultTimeout),
		},
	}, nil
}

// ImagesExist returns number of stored training images.
// exists=false means backend has no images for user (status 403).
func (self *API) ImagesExist(ctx context.Context, username string) (count int, exists bool, err error) {
	u := self.base + pathImagesExist + "?" + url.Values{"username": {username}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, false, errors.Annotate(err, "face images exist")
	}
	var resp struct {
		Data []json.RawMessage `json:"data"`
	}
	code, err := self.do(req, &resp)
	switch {
	case err != nil:
		return 0, false, errors.Annotate(err, "face images exist")
	case code == http.StatusOK:
		return len(resp.Data), true, nil
	case code == http.StatusForbidden:
		return 0, false, nil
	}
	return 0, false, errors.Annotate(StatusError{Code: code}, "face images exist")
}

func (self *API) Upload(ctx context.Context, username string, images []string) (UploadResult, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := mw.WriteField("username", username); err != nil {
		return UploadResult{}, errors.Annotate(err, "face upload")
	}
	for _, path := range images {
		if err := attachImage(mw, "image_list", path); err != nil {
			return UploadResult{}, errors.Annotate(err, "face upload")
		}
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, errors.Annotate(err, "face upload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, self.base+pathUpload, body)
	if err != nil {
		return UploadResult{}, errors.Annotate(err, "face upload")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Message string            `json:"message"`
		Data    []json.RawMessage `json:"data"`
	}
	code, err := self.do(req, &resp)
	if err != nil {
		return UploadResult{}, errors.Annotate(err, "face upload")
	}
	if code != http.StatusOK {
		return UploadResult{}, errors.Annotate(StatusError{Code: code, Body: resp.Message}, "face upload")
	}
	return UploadResult{Message: resp.Message, Count: len(resp.Data)}, nil
}

func (self *API) Verify(ctx context.Context, image string) (VerifyResult, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := attachImage(mw, "image", image); err != nil {
		return VerifyResult{}, errors.Annotate(err, "face verify")
	}
	if err := mw.Close(); err != nil {
		return VerifyResult{}, errors.Annotate(err, "face verify")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, self.base+pathVerify, body)
	if err != nil {
		return VerifyResult{}, errors.Annotate(err, "face verify")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Confidence helpers.FlexString `json:"confidence"`
		Result     []struct {
			Status     string             `json:"status"`
			LogID      helpers.FlexString `json:"log_id"`
			UserID     helpers.FlexString `json:"id_face_user"`
			AccessTime string             `json:"access_time"`
		} `json:"result"`
	}
	code, err := self.do(req, &resp)
	if err != nil {
		return VerifyResult{}, errors.Annotate(err, "face verify")
	}
	if code != http.StatusOK {
		return VerifyResult{}, errors.Annotate(StatusError{Code: code}, "face verify")
	}
	if len(resp.Result) == 0 {
		return VerifyResult{}, ErrIncomplete
	}
	r := resp.Result[0]
	return VerifyResult{
		Status:     r.Status,
		Confidence: resp.Confidence.String(),
		UserID:     r.UserID.String(),
		LogID:      r.LogID.String(),
		AccessTime: r.AccessTime,
	}, nil
}

// do returns status code; body is decoded into v when it is JSON.
func (self *API) do(req *http.Request, v interface{}) (int, error) {
	self.log.Debugf("face %s %s", req.Method, req.URL.String())
	resp, err := self.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	self.log.Debugf("face response status=%d body=%s", resp.StatusCode, b)
	if len(bytes.TrimSpace(b)) != 0 {
		if jerr := json.Unmarshal(b, v); jerr != nil && resp.StatusCode == http.StatusOK {
			return resp.StatusCode, errors.Annotate(jerr, "response json")
		}
	}
	return resp.StatusCode, nil
}

func attachImage(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filepath.Base(path)))
	h.Set("Content-Type", "image/jpeg")
	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
