// Package challenge issues and verifies the human-verification token carried
// by the order form. The image choice is embedded in the hash, so nothing is
// stored server-side between render and submit.
package challenge

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// Images is the fixed set of image identifiers a challenge can point at.
var Images = []string{
	"kala", "kasi", "kili", "kiwen", "len", "lipu", "luka", "mani",
	"mun", "noka", "pan", "pipi", "poki", "soweli", "tomo", "waso",
}

// Challenge is what the form renders: the order token and the hash that
// names the image the user has to identify.
type Challenge struct {
	Token string `json:"token"`
	Hash  string `json:"challenge"`
}

// Hash computes hex(SHA-256(key || image || secret)) with no delimiters.
func Hash(key, image, secret string) string {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte(image))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

type Issuer struct {
	secret       string
	sharedAnswer string
	pick         func(n int) int
	newToken     func() string
}

type Option func(*Issuer)

// WithPicker replaces the uniform random image choice.
func WithPicker(pick func(n int) int) Option {
	return func(i *Issuer) { i.pick = pick }
}

func WithTokenGenerator(gen func() string) Option {
	return func(i *Issuer) { i.newToken = gen }
}

func NewIssuer(secret, sharedAnswer string, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("challenge: secret is required")
	}
	i := &Issuer{
		secret:       secret,
		sharedAnswer: sharedAnswer,
		pick:         rand.IntN,
		newToken:     NewToken,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// NewToken returns a fresh opaque order token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (i *Issuer) Issue() Challenge {
	token := i.newToken()
	image := Images[i.pick(len(Images))]
	return Challenge{Token: token, Hash: Hash(token, image, i.secret)}
}

// Verify checks the shared answer and that challenge was issued for token
// with the image the user named.
func (i *Issuer) Verify(token, image, challenge, sharedAnswer string) bool {
	if token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(sharedAnswer), []byte(i.sharedAnswer)) != 1 {
		return false
	}
	want := Hash(token, image, i.secret)
	return subtle.ConstantTimeCompare([]byte(challenge), []byte(want)) == 1
}

// Resolve returns the image a challenge points at, for whoever serves the
// image itself.
func (i *Issuer) Resolve(token, challenge string) (string, bool) {
	for _, image := range Images {
		if subtle.ConstantTimeCompare([]byte(challenge), []byte(Hash(token, image, i.secret))) == 1 {
			return image, true
		}
	}
	return "", false
}
