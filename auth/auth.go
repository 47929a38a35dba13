// auth/auth.go
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	HeaderToken = "X-Thesis-Token"
	localsUID   = "uid"

	DevToken = "dev"
	DevUID   = "dev"

	resolvedCacheSize = 1024
)

var ErrInvalidToken = errors.New("invalid token")

type User struct {
	UID       string `yaml:"uid"`
	TokenHash string `yaml:"token_hash"`
}

type usersFile struct {
	Users []User `yaml:"users"`
}

// Users resolves tokens to user ids. An empty set accepts only DevToken.
// Outcomes are cached by token digest, since the set never changes after
// loading and every bcrypt compare is slow.
type Users struct {
	users    []User
	resolved *lru.Cache[[sha256.Size]byte, string]
	compare  func(hash, token []byte) error
}

func newUsers(users []User) *Users {
	// lru.New only fails for a non-positive size.
	resolved, _ := lru.New[[sha256.Size]byte, string](resolvedCacheSize)
	return &Users{users: users, resolved: resolved, compare: bcrypt.CompareHashAndPassword}
}

// LoadUsers reads the YAML users file. An empty path yields the dev set.
func LoadUsers(path string) (*Users, error) {
	if path == "" {
		return newUsers(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read users file: %w", err)
	}
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}
	for _, u := range f.Users {
		if u.UID == "" || u.TokenHash == "" {
			return nil, fmt.Errorf("users file entry needs uid and token_hash")
		}
	}
	return newUsers(f.Users), nil
}

func NewUsers(users ...User) *Users {
	return newUsers(users)
}

// HashToken returns the bcrypt hash to store in the users file.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (u *Users) Dev() bool { return len(u.users) == 0 }

func (u *Users) Resolve(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	if u.Dev() {
		if token == DevToken {
			return DevUID, nil
		}
		return "", ErrInvalidToken
	}
	key := sha256.Sum256([]byte(token))
	if uid, ok := u.resolved.Get(key); ok {
		if uid == "" {
			return "", ErrInvalidToken
		}
		return uid, nil
	}
	uid := ""
	for _, user := range u.users {
		if u.compare([]byte(user.TokenHash), []byte(token)) == nil {
			uid = user.UID
			break
		}
	}
	u.resolved.Add(key, uid)
	if uid == "" {
		return "", ErrInvalidToken
	}
	return uid, nil
}

func Middleware(users *Users) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, err := users.Resolve(c.Get(HeaderToken))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		c.Locals(localsUID, uid)
		return c.Next()
	}
}

// UID returns the user id resolved by Middleware.
func UID(c *fiber.Ctx) string {
	uid, _ := c.Locals(localsUID).(string)
	return uid
}
