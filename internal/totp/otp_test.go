package totp

import (
	"testing"
	"time"

	refotp "github.com/pquerna/otp/totp"
)

// rfcSecret is the shared secret from the RFC 6238 appendix test vectors,
// "12345678901234567890" in base32.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestGenerateCodeRFCVectors(t *testing.T) {
	// RFC 6238 Appendix B lists 8-digit SHA1 codes; the 6-digit code is the
	// same dynamic truncation mod 10^6, i.e. the last six digits.
	vectors := []struct {
		unix int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
		{20000000000, "353130"},
	}

	for _, v := range vectors {
		got, err := GenerateCode(rfcSecret, time.Unix(v.unix, 0))
		if err != nil {
			t.Fatalf("GenerateCode(t=%d): %v", v.unix, err)
		}
		if got != v.code {
			t.Errorf("GenerateCode(t=%d) = %q, want %q", v.unix, got, v.code)
		}
	}
}

func TestGenerateCodeAgreesWithReferenceLibrary(t *testing.T) {
	secret, err := GenerateSecretKey()
	if err != nil {
		t.Fatalf("GenerateSecretKey: %v", err)
	}

	for _, unix := range []int64{0, 59, 1111111109, 1700000000, 4000000000} {
		at := time.Unix(unix, 0)

		ours, err := GenerateCode(secret, at)
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		theirs, err := refotp.GenerateCode(secret, at)
		if err != nil {
			t.Fatalf("reference GenerateCode: %v", err)
		}
		if ours != theirs {
			t.Errorf("t=%d: got %q, reference produced %q", unix, ours, theirs)
		}
	}
}

func TestVerifyCodeAtWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)

	for _, tc := range []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"current step", 0, true},
		{"previous step", -30 * time.Second, true},
		{"next step", 30 * time.Second, true},
		{"two steps back", -60 * time.Second, false},
		{"two steps ahead", 60 * time.Second, false},
	} {
		code, err := GenerateCode(rfcSecret, now.Add(tc.offset))
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		ok, err := VerifyCodeAt(rfcSecret, code, now, DefaultWindow)
		if err != nil {
			t.Fatalf("%s: VerifyCodeAt: %v", tc.name, err)
		}
		if ok != tc.want {
			t.Errorf("%s: VerifyCodeAt = %v, want %v", tc.name, ok, tc.want)
		}
	}
}

func TestVerifyCodeAtMalformed(t *testing.T) {
	now := time.Unix(1700000000, 0)

	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 456", "12345x"} {
		ok, err := VerifyCodeAt(rfcSecret, code, now, DefaultWindow)
		if err != ErrMalformedCode {
			t.Errorf("code %q: expected ErrMalformedCode, got ok=%v err=%v", code, ok, err)
		}
	}

	// Surrounding whitespace is tolerated.
	code, err := GenerateCode(rfcSecret, now)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	ok, err := VerifyCodeAt(rfcSecret, " "+code+" ", now, DefaultWindow)
	if err != nil || !ok {
		t.Errorf("whitespace-padded code rejected: ok=%v err=%v", ok, err)
	}
}

func TestVerifyCodeAtBadSecret(t *testing.T) {
	if _, err := VerifyCodeAt("not base32!", "123456", time.Now(), DefaultWindow); err == nil {
		t.Fatal("expected an error for an invalid secret")
	}
}

func TestProvisioningURI(t *testing.T) {
	uri := ProvisioningURI(rfcSecret, "KeyFort", "alice@example.com")

	want := "otpauth://totp/KeyFort:alice@example.com?secret=" + rfcSecret +
		"&issuer=KeyFort&algorithm=SHA1&digits=6&period=30"
	if uri != want {
		t.Errorf("ProvisioningURI = %q, want %q", uri, want)
	}
}

func TestProvisioningURIEscapesIssuer(t *testing.T) {
	uri := ProvisioningURI(rfcSecret, "Key Fort", "alice@example.com")
	if got, want := uri[:len("otpauth://totp/Key%20Fort:")], "otpauth://totp/Key%20Fort:"; got != want {
		t.Errorf("label = %q, want prefix %q", got, want)
	}
}
