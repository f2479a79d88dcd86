package ui

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/juju/errors"
	"github.com/temoto/penlok/internal/face"
	"github.com/temoto/penlok/internal/types"
)

const (
	faceEscapeStreak = 3
	faceIDMaxLen     = 8
	faceCountMax     = 20
)

// ErrEscape unwinds every nested face prompt back to main menu.
// Receivers must return it unchanged.
var ErrEscape = errors.New("face menu escape")

var errStopped = errors.New("ui stopped")

// faceSession counts consecutive `*` presses across all face prompts.
type faceSession struct {
	streak int
}

func (s *faceSession) reset() { s.streak = 0 }

func (s *faceSession) observe(key types.InputKey) error {
	if key != types.KeyStar {
		s.streak = 0
		return nil
	}
	s.streak++
	if s.streak >= faceEscapeStreak {
		s.streak = 0
		return ErrEscape
	}
	return nil
}

// faceKey is the only way face prompts read keypad.
func (self *UI) faceKey() (types.InputKey, error) {
	for {
		e := self.waitKey()
		switch e.kind {
		case eventStop:
			return 0, errStopped
		case eventKey:
			if err := self.session.observe(e.key); err != nil {
				return 0, err
			}
			return e.key, nil
		}
	}
}

func (self *UI) faceMessage(lines ...string) error {
	if !self.message(msgDelay, lines...) {
		return errStopped
	}
	return nil
}

func (self *UI) faceResult(err error) State {
	switch err {
	case nil:
		return StateFaceMenu
	case ErrEscape:
		self.display.SetLines("Leaving face")
		if !self.sleep(msgDelayLeave) {
			return StateStop
		}
		return StateMainMenu
	case errStopped:
		return StateStop
	}
	self.g.Error(err, "ui face")
	return StateFaceMenu
}

func (self *UI) onFaceMenu() State {
	for {
		self.display.SetLines("FACE MENU", "1=Enroll/Add", "2=Verify", "* x3 Main menu")
		key, err := self.faceKey()
		if err != nil {
			return self.faceResult(err)
		}
		switch key {
		case '1':
			return StateFaceTrain
		case '2':
			return StateFaceVerify
		case types.KeyHash:
			self.display.SetLines("FACE MENU", "Use option 1/2")
			if !self.sleep(msgDelayShort) {
				return StateStop
			}
		}
	}
}

func (self *UI) faceTrain(ctx context.Context) error {
	id, err := self.faceReadNumber("Face ID:", faceIDMaxLen, nil)
	if err != nil || id == "" {
		return err
	}
	if self.Records == nil {
		return self.faceMessage("Lookup failed")
	}
	user, err := self.Records.UserByFaceID(ctx, id)
	switch {
	case errors.IsNotFound(err):
		self.g.Log.Infof("ui face id=%s user not found", id)
		return self.faceMessage("User not found", "ID "+id)
	case err != nil:
		self.g.Error(err, "ui face id=%s", id)
		return self.faceMessage("Lookup failed")
	}
	if err = self.faceMessage("User found", user.FullName(), user.Username, "Role: "+user.Role); err != nil {
		return err
	}

	self.display.SetLines("Train this user?", user.Username, "1=Yes 2=No")
	for confirmed := false; !confirmed; {
		key, err := self.faceKey()
		if err != nil {
			return err
		}
		switch key {
		case '1':
			confirmed = true
		case '2', types.KeyHash, types.KeyStar:
			return nil
		}
	}

	if self.Face == nil {
		return self.faceMessage("Check failed")
	}
	existing, exists, err := self.Face.ImagesExist(ctx, user.Username)
	if err != nil {
		self.g.Error(err, "ui face images user=%s", user.Username)
		return self.faceMessage("Check failed")
	}
	mode := "New user"
	if exists {
		mode = fmt.Sprintf("Existing: %d img", existing)
	}
	self.g.Log.Infof("ui face train user=%s mode=%s", user.Username, mode)

	var target int
	for {
		countText, err := self.faceReadNumber("Images 1-20:", 2, []string{mode})
		if err != nil || countText == "" {
			return err
		}
		if target, _ = strconv.Atoi(countText); target >= 1 && target <= faceCountMax {
			break
		}
		if err = self.faceMessage("Count 1-20 only"); err != nil {
			return err
		}
	}

	dir, err := self.makeTempDir("train-")
	if err != nil {
		self.g.Error(err)
		return self.faceMessage("Storage error")
	}
	defer os.RemoveAll(dir)

	images := make([]string, 0, target)
	for attempt := 1; len(images) < target && attempt <= face.MaxAttempts; attempt++ {
		self.display.SetLines("Capturing", fmt.Sprintf("%d/%d", len(images), target), fmt.Sprintf("attempt %d", attempt))
		batch, err := self.Capturer.CaptureBatch(ctx, dir, user.Username, target-len(images))
		if err != nil {
			self.g.Error(err, "ui face capture attempt=%d", attempt)
			continue
		}
		if len(batch) == 0 {
			return self.faceMessage("Capture canceled")
		}
		images = append(images, batch...)
	}
	if len(images) < target {
		return self.faceMessage("Capture failed", fmt.Sprintf("%d/%d", len(images), target))
	}

	self.display.SetLines("Uploading", fmt.Sprintf("%d images", target))
	result, err := self.Face.Upload(ctx, user.Username, images[:target])
	if err != nil {
		self.g.Error(err, "ui face upload user=%s", user.Username)
		return self.faceMessage("Upload failed")
	}
	self.g.Log.Infof("ui face upload user=%s count=%d message=%s", user.Username, result.Count, result.Message)
	return self.faceMessage("Training saved", fmt.Sprintf("%d images", result.Count))
}

func (self *UI) faceVerify(ctx context.Context) error {
	self.display.SetLines("FACE VERIFY", "#=Start", "*=Cancel")
	for started := false; !started; {
		key, err := self.faceKey()
		if err != nil {
			return err
		}
		switch key {
		case types.KeyHash:
			started = true
		case types.KeyStar:
			return nil
		}
	}
	if self.Face == nil {
		return self.faceMessage("Verify failed")
	}

	dir, err := self.makeTempDir("verify-")
	if err != nil {
		self.g.Error(err)
		return self.faceMessage("Storage error")
	}
	defer os.RemoveAll(dir)

	self.display.SetLines("FACE VERIFY", "Look at camera")
	image, err := self.Capturer.CaptureOne(ctx, dir)
	if err != nil {
		self.g.Error(err, "ui face capture")
		return self.faceMessage("Capture failed")
	}
	if image == "" {
		return self.faceMessage("Capture canceled")
	}
	result, err := self.Face.Verify(ctx, image)
	switch {
	case errors.Cause(err) == face.ErrIncomplete:
		return self.faceMessage("Incomplete reply")
	case err != nil:
		self.g.Error(err, "ui face verify")
		return self.faceMessage("Verify failed")
	}
	status := "UNAUTHORIZED"
	if result.Authorized() {
		status = "AUTHORIZED"
	}
	self.g.Log.Infof("ui face verify status=%s user=%s confidence=%s", result.Status, result.UserID, result.Confidence)
	return self.faceMessage(status, "Conf: "+result.Confidence, "User: "+result.UserID)
}

// faceReadNumber collects up to max digits. `#` accepts non-empty input,
// `*` deletes last digit or cancels on empty input with "",nil.
func (self *UI) faceReadNumber(title string, max int, extra []string) (string, error) {
	buf := make([]byte, 0, max)
	for {
		lines := append([]string{title}, extra...)
		lines = append(lines, string(buf), "#=OK *=Del")
		self.display.SetLines(lines...)
		key, err := self.faceKey()
		if err != nil {
			return "", err
		}
		switch {
		case key == types.KeyHash:
			if len(buf) > 0 {
				return string(buf), nil
			}
		case key == types.KeyStar:
			if len(buf) == 0 {
				return "", nil
			}
			buf = buf[:len(buf)-1]
		case key >= '0' && key <= '9':
			if len(buf) < max {
				buf = append(buf, byte(key))
			}
		}
	}
}
