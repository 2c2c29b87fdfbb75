package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveClient uploads finished renders to Google Drive
type DriveClient struct {
	service    *drive.Service
	folderName string
	folderID   string

	mu      sync.Mutex
	folders map[string]string
}

// NewDriveClient creates a Drive client from OAuth client credentials and
// a previously authorized token. The server never prompts for a token;
// run the interactive authorization once with AuthorizeDrive.
func NewDriveClient(ctx context.Context, credentialsFile, tokenFile, folderName string) (*DriveClient, error) {
	config, err := driveConfig(credentialsFile)
	if err != nil {
		return nil, err
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read Drive token %s (authorize first): %w", tokenFile, err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	dc := &DriveClient{
		service:    srv,
		folderName: folderName,
		folders:    make(map[string]string),
	}
	if err := dc.ensureFolder(ctx); err != nil {
		return nil, err
	}
	return dc, nil
}

func driveConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}
	return config, nil
}

// DriveAuthURL returns the consent URL for a one-time authorization
func DriveAuthURL(credentialsFile string) (string, error) {
	config, err := driveConfig(credentialsFile)
	if err != nil {
		return "", err
	}
	return config.AuthCodeURL("state-token", oauth2.AccessTypeOffline), nil
}

// AuthorizeDrive exchanges an authorization code and caches the token
func AuthorizeDrive(ctx context.Context, credentialsFile, tokenFile, code string) error {
	config, err := driveConfig(credentialsFile)
	if err != nil {
		return err
	}
	tok, err := config.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("unable to retrieve token: %w", err)
	}
	return saveToken(tokenFile, tok)
}

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// saveToken saves a token to a file path
func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("unable to encode oauth token: %w", err)
	}
	return nil
}

// Name identifies the publisher in logs
func (dc *DriveClient) Name() string { return "gdrive" }

// ensureFolder finds or creates the root folder
func (dc *DriveClient) ensureFolder(ctx context.Context) error {
	id, err := dc.findOrCreateFolder(ctx, dc.folderName, "")
	if err != nil {
		return fmt.Errorf("unable to prepare Drive folder %q: %w", dc.folderName, err)
	}
	dc.folderID = id
	return nil
}

// Publish uploads the render into Interviews/YYYY/MM/DD and returns its link
func (dc *DriveClient) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	folderID, err := dc.ensureDateFolder(ctx, time.Now())
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open render: %w", err)
	}
	defer f.Close()

	file := &drive.File{
		Name:     fmt.Sprintf("video_%s.mp4", jobID),
		MimeType: "video/mp4",
		Parents:  []string{folderID},
	}
	created, err := dc.service.Files.Create(file).Media(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload render: %w", err)
	}
	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id), nil
}

// ensureDateFolder creates nested year/month/day folders
func (dc *DriveClient) ensureDateFolder(ctx context.Context, t time.Time) (string, error) {
	key := t.Format("2006/01/02")
	dc.mu.Lock()
	id, ok := dc.folders[key]
	dc.mu.Unlock()
	if ok {
		return id, nil
	}

	parent := dc.folderID
	for _, name := range []string{
		fmt.Sprintf("%d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
	} {
		next, err := dc.findOrCreateFolder(ctx, name, parent)
		if err != nil {
			return "", fmt.Errorf("unable to prepare Drive folder %s: %w", key, err)
		}
		parent = next
	}

	dc.mu.Lock()
	dc.folders[key] = parent
	dc.mu.Unlock()
	return parent, nil
}

// findOrCreateFolder finds or creates a folder under parentID; an empty
// parentID searches the whole drive
func (dc *DriveClient) findOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		strings.ReplaceAll(name, "'", `\'`))
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	r, err := dc.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
	}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}
	file, err := dc.service.Files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return file.Id, nil
}
