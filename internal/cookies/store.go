// Package cookies owns the authentication cookie file handed to yt-dlp:
// validation, metadata, backups and atomic replacement.
package cookies

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coah80/yoinktube/internal/config"
)

const (
	backupPrefix     = "cookies_backup_"
	backupSuffix     = ".txt"
	backupTimeLayout = "20060102_150405"
	snapshotName     = "cookies.txt"
)

var (
	ErrNoCookies      = errors.New("no cookies file")
	ErrBackupNotFound = errors.New("backup not found")
)

// ValidationError carries the human readable reason a candidate was
// rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid cookies file: " + e.Reason }

type Metadata struct {
	Path            string
	Size            int64
	ModTime         time.Time
	Format          Format
	LineCount       int
	DomainCount     int
	DomainCookies   map[string]int
	ProviderCookies int
	ProviderNames   []string
}

// Usable reports whether the file is worth handing to the extractor.
func (m *Metadata) Usable() bool {
	return m != nil && m.Size > config.CookieMinSize && m.ProviderCookies > 0
}

type Backup struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

type Store struct {
	path      string
	backupDir string
	tokens    []string
	log       zerolog.Logger
	now       func() time.Time

	meta atomic.Pointer[Metadata]
}

func NewStore(path, backupDir string, log zerolog.Logger) *Store {
	s := &Store{
		path:      path,
		backupDir: backupDir,
		tokens:    config.ProviderDomains,
		log:       log.With().Str("component", "cookies").Logger(),
		now:       time.Now,
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		s.log.Error().Err(err).Str("dir", backupDir).Msg("Failed to create backup directory")
	}
	s.Inspect()
	return s
}

func (s *Store) Path() string { return s.path }

func (s *Store) BackupDir() string { return s.backupDir }

// Inspect rereads the active file and refreshes the cached metadata. Any I/O
// problem is treated as "no cookies".
func (s *Store) Inspect() *Metadata {
	info, err := os.Stat(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error().Err(err).Str("path", s.path).Msg("Error reading cookies file")
		} else {
			s.log.Warn().Str("path", s.path).Msg("No cookies file found")
		}
		s.meta.Store(nil)
		return nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("Error opening cookies file")
		s.meta.Store(nil)
		return nil
	}
	defer f.Close()

	res, err := scanTable(f, s.tokens)
	if err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("Error scanning cookies file")
		s.meta.Store(nil)
		return nil
	}

	m := &Metadata{
		Path:            s.path,
		Size:            info.Size(),
		ModTime:         info.ModTime(),
		Format:          res.format,
		LineCount:       res.lines,
		DomainCount:     len(res.domains),
		DomainCookies:   res.domains,
		ProviderCookies: res.providerCookies,
		ProviderNames:   res.providerNames,
	}
	s.meta.Store(m)

	if m.Usable() {
		s.log.Info().Int64("size", m.Size).Time("modified", m.ModTime).Msg("Cookies file found")
	} else {
		s.log.Warn().Int64("size", m.Size).Msg("Cookies file is too small or has no provider cookies")
	}
	return m
}

// Metadata returns the cached result of the last Inspect.
func (s *Store) Metadata() *Metadata {
	return s.meta.Load()
}

func (s *Store) Available() bool {
	return s.meta.Load().Usable()
}

// CookieNames lists the distinct provider cookie names seen by the last
// Inspect.
func (s *Store) CookieNames() []string {
	m := s.meta.Load()
	if m == nil {
		return nil
	}
	return m.ProviderNames
}

// Validate decides whether candidatePath may become the active cookie file.
func (s *Store) Validate(candidatePath string) (bool, string) {
	info, err := os.Stat(candidatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, "File does not exist"
		}
		return false, fmt.Sprintf("Error validating file: %v", err)
	}

	size := info.Size()
	if size < config.CookieMinSize {
		return false, fmt.Sprintf("File too small (%d bytes). Minimum %d bytes required.", size, config.CookieMinSize)
	}
	if size > config.CookieMaxSize {
		return false, fmt.Sprintf("File too large (%d bytes). Maximum 1MB allowed.", size)
	}

	f, err := os.Open(candidatePath)
	if err != nil {
		return false, fmt.Sprintf("Error validating file: %v", err)
	}
	defer f.Close()

	res, err := scanTable(f, s.tokens)
	if err != nil {
		return false, fmt.Sprintf("Error validating file: %v", err)
	}

	if res.cookieLines == 0 && res.format != FormatNetscape {
		return false, "File doesn't appear to be a valid cookies.txt format"
	}
	if res.providerLines == 0 {
		return false, "No YouTube cookies found in file"
	}

	return true, fmt.Sprintf("Valid cookies file. Size: %d bytes, Format: %s, Cookie lines: %d", size, res.format, res.cookieLines)
}

// Backup copies the active file into the backup directory. It returns the
// new backup's path, or "" when there was nothing to back up or the copy
// failed.
func (s *Store) Backup() string {
	if _, err := os.Stat(s.path); err != nil {
		return ""
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		s.log.Error().Err(err).Msg("Failed to backup cookies")
		return ""
	}

	base := backupPrefix + s.now().Format(backupTimeLayout)
	dest := filepath.Join(s.backupDir, base+backupSuffix)
	for n := 1; fileExists(dest); n++ {
		dest = filepath.Join(s.backupDir, fmt.Sprintf("%s_%d%s", base, n, backupSuffix))
	}

	if err := copyFile(s.path, dest); err != nil {
		s.log.Error().Err(err).Msg("Failed to backup cookies")
		os.Remove(dest)
		return ""
	}
	s.log.Info().Str("backup", dest).Msg("Backed up cookies")
	return dest
}

// Replace validates candidatePath, backs up the active file and swaps the
// candidate in.
func (s *Store) Replace(candidatePath string) (*Metadata, error) {
	if ok, reason := s.Validate(candidatePath); !ok {
		return nil, &ValidationError{Reason: reason}
	}

	s.Backup()
	if err := atomicCopy(candidatePath, s.path); err != nil {
		s.log.Error().Err(err).Msg("Failed to replace cookies")
		return nil, fmt.Errorf("replacing cookies: %w", err)
	}
	s.log.Info().Str("path", s.path).Msg("Cookies replaced")
	return s.Inspect(), nil
}

// Restore makes the named backup the active file again.
func (s *Store) Restore(backupName string) (*Metadata, error) {
	if backupName == "" || backupName != filepath.Base(backupName) ||
		!strings.HasPrefix(backupName, backupPrefix) {
		return nil, ErrBackupNotFound
	}
	src := filepath.Join(s.backupDir, backupName)
	if !fileExists(src) {
		return nil, ErrBackupNotFound
	}

	s.Backup()
	if err := atomicCopy(src, s.path); err != nil {
		s.log.Error().Err(err).Str("backup", backupName).Msg("Failed to restore cookies")
		return nil, fmt.Errorf("restoring cookies: %w", err)
	}
	s.log.Info().Str("backup", backupName).Msg("Cookies restored from backup")
	return s.Inspect(), nil
}

// Delete backs up and removes the active file.
func (s *Store) Delete() error {
	if !fileExists(s.path) {
		return ErrNoCookies
	}

	s.Backup()
	if err := os.Remove(s.path); err != nil {
		s.log.Error().Err(err).Msg("Failed to delete cookies")
		return fmt.Errorf("deleting cookies: %w", err)
	}
	s.meta.Store(nil)
	s.log.Info().Str("path", s.path).Msg("Cookies deleted")
	return nil
}

// ListBackups returns all backups, newest first.
func (s *Store) ListBackups() ([]Backup, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var backups []Backup
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Backup{
			Name:    name,
			Path:    filepath.Join(s.backupDir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].ModTime.Equal(backups[j].ModTime) {
			return backups[i].ModTime.After(backups[j].ModTime)
		}
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

// PruneBackups keeps the newest keep backups and removes the rest.
func (s *Store) PruneBackups(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	backups, err := s.ListBackups()
	if err != nil {
		return 0, err
	}
	if len(backups) <= keep {
		return 0, nil
	}

	removed := 0
	for _, b := range backups[keep:] {
		if err := os.Remove(b.Path); err != nil {
			s.log.Error().Err(err).Str("backup", b.Name).Msg("Failed to prune backup")
			continue
		}
		removed++
	}
	s.log.Info().Int("removed", removed).Int("kept", keep).Msg("Pruned cookie backups")
	return removed, nil
}

// Snapshot copies the active file into dir for a single run. yt-dlp writes
// its cookie jar back to --cookies, so runs never point it at the live file.
func (s *Store) Snapshot(dir string) (string, bool) {
	if !s.Available() {
		return "", false
	}
	dest := filepath.Join(dir, snapshotName)
	if err := copyFile(s.path, dest); err != nil {
		s.log.Warn().Err(err).Msg("Failed to snapshot cookies, continuing without")
		return "", false
	}
	return dest, true
}

// Sample returns up to n lines of the active file with cookie values hidden.
func (s *Store) Sample(n int) []string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if len(out) >= n {
			break
		}
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, redactLine(line))
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// atomicCopy writes src next to dst and renames it into place so readers
// never observe a half-written file.
func atomicCopy(src, dst string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, ".cookies-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
