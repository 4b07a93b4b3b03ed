package signing

import "testing"

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	sig := s.Sign("42/photo.jpg", 1700000000)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !s.Validate("42/photo.jpg", "1700000000", sig) {
		t.Fatalf("expected signature to validate")
	}
	if s.Validate("43/other.jpg", "1700000000", sig) {
		t.Fatalf("expected validation to fail for wrong key")
	}
	if s.Validate("42/photo.jpg", "42", sig) {
		t.Fatalf("expected validation to fail for wrong expiry")
	}
	if s.Validate("42/photo.jpg", "not-a-number", sig) {
		t.Fatalf("expected validation to fail for malformed expiry")
	}
}
