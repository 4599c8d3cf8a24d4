package auth

import "testing"

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(hash, "correct horse battery staple") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("wrong password accepted")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")

	token, err := Issue(secret, 42)
	if err != nil {
		t.Fatal(err)
	}
	uid, err := Verify(secret, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if uid != 42 {
		t.Errorf("uid = %d, want 42", uid)
	}
}

func TestVerifyRejects(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, 42)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Verify([]byte("other-secret"), token); err == nil {
		t.Error("token accepted under the wrong secret")
	}
	if _, err := Verify(secret, token+"x"); err == nil {
		t.Error("tampered token accepted")
	}
	if _, err := Verify(secret, "not-a-token"); err == nil {
		t.Error("garbage accepted")
	}
}
