package confirmation

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/skip2/go-qrcode"

	"ms-rentals/internal/models"
)

var ErrInvalidCode = errors.New("invalid confirmation code")

// Pass is the payload sealed into a confirmation code, shown at check-in.
type Pass struct {
	BookingID  string    `json:"booking_id"`
	PropertyID string    `json:"property_id"`
	GuestName  string    `json:"guest_name"`
	GuestCount int       `json:"guest_count"`
	CheckIn    time.Time `json:"check_in"`
	CheckOut   time.Time `json:"check_out"`
}

type QRGenerator struct {
	secret []byte
	size   int
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:], size: 256}
}

// Generate returns a PNG QR code holding the sealed pass for b.
func (q *QRGenerator) Generate(b *models.Booking) ([]byte, error) {
	code, err := q.Seal(b)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(code, qrcode.Medium, q.size)
}

// Seal encrypts the pass for b into a URL-safe string.
func (q *QRGenerator) Seal(b *models.Booking) (string, error) {
	data, err := json.Marshal(Pass{
		BookingID:  b.ID,
		PropertyID: b.PropertyID,
		GuestName:  b.GuestName,
		GuestCount: b.GuestCount,
		CheckIn:    b.CheckIn,
		CheckOut:   b.CheckOut,
	})
	if err != nil {
		return "", err
	}

	gcm, err := q.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a code produced by Seal. Tampered codes fail authentication.
func (q *QRGenerator) Open(code string) (*Pass, error) {
	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return nil, ErrInvalidCode
	}
	gcm, err := q.aead()
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, ErrInvalidCode
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	data, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidCode
	}

	var p Pass
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrInvalidCode
	}
	return &p, nil
}

func (q *QRGenerator) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
