package mfa

import "testing"

func TestGenerateOTP_SixDigits(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateOTP()
		if err != nil {
			t.Fatalf("GenerateOTP: %v", err)
		}
		if len(code) != otpDigits {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("code %q has non-digit %q", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 150 {
		t.Errorf("only %d distinct codes in 200 draws", len(seen))
	}
}

func TestHashOTP(t *testing.T) {
	h := HashOTP("123456")
	if len(h) != 64 {
		t.Errorf("hash length = %d, want 64", len(h))
	}
	if HashOTP("123456") != h {
		t.Error("hash is not deterministic")
	}
	if HashOTP("123457") == h {
		t.Error("different codes share a hash")
	}
}

func TestOTPEqual(t *testing.T) {
	stored := HashOTP("000042")
	if !OTPEqual("000042", stored) {
		t.Error("matching code rejected")
	}
	if OTPEqual("42", stored) {
		t.Error("unpadded code accepted")
	}
	if OTPEqual("", "") {
		t.Error("empty stored hash matched")
	}
}
