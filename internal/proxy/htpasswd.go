package proxy

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/BlueBeard63/nids-deploy/internal/system"
)

const passwordBytes = 18

// EnsureHtpasswd makes sure path holds a bcrypt entry for user. An existing
// entry is kept. Otherwise a password is generated and handed to store; the
// entry is written only after store succeeds.
func EnsureHtpasswd(path, user string, store func(password string) error) (created bool, err error) {
	if user == "" || strings.ContainsAny(user, ":\n") {
		return false, fmt.Errorf("invalid htpasswd user %q", user)
	}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if hasUser(existing, user) {
		return false, nil
	}

	password, err := generatePassword()
	if err != nil {
		return false, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := store(password); err != nil {
		return false, err
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	fmt.Fprintf(&buf, "%s:%s\n", user, hash)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, err
	}
	// nginx workers read the file at request time
	if err := system.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return false, err
	}
	return true, nil
}

// CheckHtpasswd reports whether password matches the entry for user
func CheckHtpasswd(path, user, password string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		name, hash, ok := strings.Cut(scanner.Text(), ":")
		if !ok || name != user {
			continue
		}
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
	}
	return false, scanner.Err()
}

func hasUser(data []byte, user string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if name, _, ok := strings.Cut(scanner.Text(), ":"); ok && name == user {
			return true
		}
	}
	return false
}

func generatePassword() (string, error) {
	raw := make([]byte, passwordBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
