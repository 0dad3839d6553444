package service

import (
	"context"
	"fmt"
	"net/url"
	"testing"
)

func TestPermanent(t *testing.T) {
	err := fmt.Errorf("Permanent error")
	if Temporary(err) {
		t.Fail()
	}
	err = &url.Error{Err: err}
	if Temporary(err) {
		t.Fail()
	}
}

func TestTemporary(t *testing.T) {
	err := MakeTemporary(fmt.Errorf("Temporary error"))
	if !Temporary(err) {
		t.Fail()
	}
	err = fmt.Errorf("Wrap: %w", err)
	if !Temporary(err) {
		t.Fail()
	}
	if !Temporary(context.Canceled) {
		t.Fail()
	}
	if !Temporary(context.DeadlineExceeded) {
		t.Fail()
	}
}

func TestFatal(t *testing.T) {
	err := MakeFatal(fmt.Errorf("Fatal error"))
	if !Fatal(err) {
		t.Fail()
	}
	err = fmt.Errorf("Wrap: %w", err)
	if !Fatal(err) {
		t.Fail()
	}
	if Fatal(fmt.Errorf("plain")) {
		t.Fail()
	}
}

func TestFromStatusCode(t *testing.T) {
	base := fmt.Errorf("status")
	if !Fatal(FromStatusCode(403, base)) {
		t.Errorf("403: expected fatal")
	}
	if !Fatal(FromStatusCode(404, base)) {
		t.Errorf("404: expected fatal")
	}
	if !Temporary(FromStatusCode(429, base)) {
		t.Errorf("429: expected temporary")
	}
	if !Temporary(FromStatusCode(503, base)) {
		t.Errorf("503: expected temporary")
	}
	if err := FromStatusCode(400, base); Temporary(err) || Fatal(err) {
		t.Errorf("400: expected unclassified")
	}
}

func TestMergeErrors(t *testing.T) {
	tmp := MakeTemporary(fmt.Errorf("temporary"))
	perm := fmt.Errorf("permanent")

	if err := MergeErrors(false, tmp, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := MergeErrors(false, tmp, perm); err == nil || Temporary(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if err := MergeErrors(true, nil, tmp); err == nil || !Temporary(err) {
		t.Errorf("expected temporary error, got %v", err)
	}
}
