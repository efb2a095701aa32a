package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/ssh"

	"pkt.systems/coxswain/internal/appconfig"
	"pkt.systems/coxswain/schema"
)

func TestStoreRejectsInvalidUsername(t *testing.T) {
	store := newTestStore(t)
	err := store.AddUser(User{
		Username:     "Alice",
		PasswordHash: "hash",
		TOTPSecret:   "secret",
	})
	if !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected invalid username error, got %v", err)
	}
}

func TestStoreRejectsInvalidSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	_, err := NewStoreWithLogger(path, []appconfig.SeedUser{
		{
			Username:     "BadUser",
			PasswordHash: "hash",
			TOTPSecret:   "secret",
		},
	}, nil)
	if !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected error for invalid seed user, got %v", err)
	}
}

func TestStoreRejectsUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	payload := `{"version": 9, "users": []}`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write store: %v", err)
	}
	if _, err := NewStoreWithLogger(path, nil, nil); err == nil || !strings.Contains(err.Error(), "unsupported user store version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestStoreLoginPubKeysCRUD(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddUser(User{
		Username:     "alice",
		PasswordHash: "hash",
		TOTPSecret:   "secret",
	}); err != nil {
		t.Fatalf("add user: %v", err)
	}

	signer := newTestSigner(t)
	pubKey := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))

	if _, err := store.AddLoginPubKey("alice", pubKey); err != nil {
		t.Fatalf("add login pubkey: %v", err)
	}
	if idx, err := store.AddLoginPubKey("alice", pubKey); !errors.Is(err, ErrPubKeyExists) || idx != 1 {
		t.Fatalf("expected duplicate pubkey error with index 1, got %d %v", idx, err)
	}
	keys, err := store.ListLoginPubKeys("alice")
	if err != nil {
		t.Fatalf("list login pubkeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 pubkey, got %d", len(keys))
	}

	ok, err := store.HasLoginPubKey("alice", signer.PublicKey())
	if err != nil {
		t.Fatalf("has login pubkey: %v", err)
	}
	if !ok {
		t.Fatalf("expected stored pubkey to match")
	}

	if err := store.RemoveLoginPubKey("alice", 1); err != nil {
		t.Fatalf("remove login pubkey: %v", err)
	}
	keys, err = store.ListLoginPubKeys("alice")
	if err != nil {
		t.Fatalf("list after remove: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no pubkeys after remove, got %d", len(keys))
	}
}

func TestStoreChangePassword(t *testing.T) {
	store := newTestStore(t)
	secret := "JBSWY3DPEHPK3PXP"
	if err := store.AddUser(User{
		Username:     "alice",
		PasswordHash: mustHash(t, "old-pass"),
		TOTPSecret:   secret,
	}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := store.ChangePassword("alice", "old-pass", mustTOTP(t, secret), "new-pass"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if err := store.Authenticate("alice", "new-pass", mustTOTP(t, secret)); err != nil {
		t.Fatalf("authenticate new password: %v", err)
	}
	if err := store.Authenticate("alice", "old-pass", mustTOTP(t, secret)); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}
}

func TestStoreReloadsPasswordChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	writer, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	secret := "JBSWY3DPEHPK3PXP"
	if err := writer.AddUser(User{
		Username:     "alice",
		PasswordHash: mustHash(t, "old-pass"),
		TOTPSecret:   secret,
	}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	reader, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store reader: %v", err)
	}
	if err := reader.Authenticate("alice", "old-pass", mustTOTP(t, secret)); err != nil {
		t.Fatalf("authenticate old password: %v", err)
	}
	if err := writer.UpdatePassword("alice", mustHash(t, "new-pass")); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if err := reader.Authenticate("alice", "new-pass", mustTOTP(t, secret)); err != nil {
		t.Fatalf("authenticate new password: %v", err)
	}
	if err := reader.Authenticate("alice", "old-pass", mustTOTP(t, secret)); err == nil {
		t.Fatalf("expected old password to fail after refresh")
	}
}

func TestStoreReloadsUserAddDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	writer, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	reader, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store reader: %v", err)
	}
	secret := "JBSWY3DPEHPK3PXP"
	if err := writer.AddUser(User{
		Username:     "bob",
		PasswordHash: mustHash(t, "pass"),
		TOTPSecret:   secret,
	}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := reader.Authenticate("bob", "pass", mustTOTP(t, secret)); err != nil {
		t.Fatalf("authenticate new user: %v", err)
	}
	if err := writer.DeleteUser("bob"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if err := reader.Authenticate("bob", "pass", mustTOTP(t, secret)); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected deleted user login to fail, got %v", err)
	}
}

func TestStoreReloadsTOTPChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	writer, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	secretA := "JBSWY3DPEHPK3PXP"
	if err := writer.AddUser(User{
		Username:     "alice",
		PasswordHash: mustHash(t, "pass"),
		TOTPSecret:   secretA,
	}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	reader, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store reader: %v", err)
	}
	if err := reader.Authenticate("alice", "pass", mustTOTP(t, secretA)); err != nil {
		t.Fatalf("authenticate with original totp: %v", err)
	}
	secretB := "KRSXG5DSNFXGOIDB"
	if err := writer.UpdateTOTP("alice", secretB); err != nil {
		t.Fatalf("update totp: %v", err)
	}
	if err := reader.ValidateTOTP("alice", mustTOTP(t, secretB)); err != nil {
		t.Fatalf("validate rotated totp: %v", err)
	}
	if err := reader.ValidateTOTP("alice", mustTOTP(t, secretA)); !errors.Is(err, ErrInvalidTOTP) {
		t.Fatalf("expected old totp to fail after refresh, got %v", err)
	}
}

func TestStoreReloadsLoginPubKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	writer, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := writer.AddUser(User{
		Username:     "alice",
		PasswordHash: mustHash(t, "pass"),
		TOTPSecret:   "JBSWY3DPEHPK3PXP",
	}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	reader, err := NewStoreWithLogger(path, nil, nil)
	if err != nil {
		t.Fatalf("new store reader: %v", err)
	}
	signer := newTestSigner(t)
	pubKey := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
	if _, err := writer.AddLoginPubKey("alice", pubKey); err != nil {
		t.Fatalf("add login pubkey: %v", err)
	}
	ok, err := reader.HasLoginPubKey("alice", signer.PublicKey())
	if err != nil {
		t.Fatalf("has login pubkey: %v", err)
	}
	if !ok {
		t.Fatalf("expected login pubkey to match after refresh")
	}
	if err := writer.RemoveLoginPubKey("alice", 1); err != nil {
		t.Fatalf("remove login pubkey: %v", err)
	}
	ok, err = reader.HasLoginPubKey("alice", signer.PublicKey())
	if err != nil {
		t.Fatalf("has login pubkey after remove: %v", err)
	}
	if ok {
		t.Fatalf("expected login pubkey to be removed after refresh")
	}
}

func TestStoreListsUsersSorted(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []schema.UserID{"carol", "alice", "bob"} {
		if err := store.AddUser(User{
			Username:     name,
			PasswordHash: "hash",
			TOTPSecret:   "secret",
		}); err != nil {
			t.Fatalf("add user %s: %v", name, err)
		}
	}
	users := store.LoadUsers()
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}
	want := []schema.UserID{"alice", "bob", "carol"}
	for i, user := range users {
		if user.Username != want[i] {
			t.Fatalf("expected user %d to be %s, got %s", i, want[i], user.Username)
		}
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStoreWithLogger(filepath.Join(dir, "users.json"), nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func newTestSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}

func mustTOTP(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate totp: %v", err)
	}
	return code
}
