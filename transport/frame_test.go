package transport

import (
	"net"
	"testing"
	"time"
)

func pipe(t *testing.T) (a, b net.Conn) {
	t.Helper()
	a, b = net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestFrameRoundTripAllVariants(t *testing.T) {
	msgs := []*Message{
		AuthChallengeMsg(make([]byte, 32)),
		AuthResponseMsg(make([]byte, 32), []byte{1, 2, 3, 4}),
		AuthSuccessMsg(),
		AuthFailureMsg("unknown key"),
		PublicKeyMsg([]byte("-----BEGIN RSA PUBLIC KEY-----\n...\n")),
		EncryptedPayloadMsg([]byte("ciphertext"), make([]byte, 12), []byte("wrapped-key"), make([]byte, 32), "report.ftt"),
		TransferResultMsg(true, ""),
		TransferResultMsg(false, "integrity"),
	}

	for _, want := range msgs {
		a, b := pipe(t)
		go func() {
			if err := WriteFrame(a, want, time.Second); err != nil {
				t.Errorf("write %s: %v", want.Tag, err)
			}
		}()
		got, err := ReadFrame(b, time.Second)
		if err != nil {
			t.Fatalf("read %s: %v", want.Tag, err)
		}
		if got.Tag != want.Tag {
			t.Fatalf("tag mismatch: got %s want %s", got.Tag, want.Tag)
		}
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	a, b := pipe(t)
	go func() {
		var buf [4]byte
		buf[0] = 0xFF // declares a length far beyond MaxFramePayload
		a.Write(buf[:])
	}()
	if _, err := ReadFrame(b, time.Second); err == nil {
		t.Fatalf("expected rejection of oversized declared length")
	}
}

func TestReadFrameTimesOut(t *testing.T) {
	_, b := pipe(t)
	start := time.Now()
	_, err := ReadFrame(b, 50*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took too long: %v", time.Since(start))
	}
}

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	want := EncryptedPayloadMsg([]byte("abc"), make([]byte, 12), []byte("key"), make([]byte, 32), "blob.ftt")
	payload := want.encode()
	got, err := decodeMessage(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Filename != want.Filename || string(got.Ciphertext) != string(want.Ciphertext) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, want)
	}
}

func TestDecodeMessageRejectsTrailingBytes(t *testing.T) {
	payload := append(AuthSuccessMsg().encode(), 0xAA)
	if _, err := decodeMessage(payload); err == nil {
		t.Fatalf("expected rejection of trailing bytes")
	}
}
