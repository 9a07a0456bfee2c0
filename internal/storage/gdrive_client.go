package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"sermon-engine/internal/types"
)

// DriveClient handles uploading audio chunks to Google Drive
type DriveClient struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// NewDriveClient creates a new Google Drive client
func NewDriveClient(credentialsFile, tokenFile, folderName string) (*DriveClient, error) {
	ctx := context.Background()

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client, err := getClient(config, tokenFile)
	if err != nil {
		return nil, err
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	dc := &DriveClient{
		service:    srv,
		folderName: folderName,
	}

	if err := dc.ensureFolder(); err != nil {
		return nil, err
	}

	return dc, nil
}

// getClient builds an HTTP client from a cached oauth token.
func getClient(config *oauth2.Config, tokenFile string) (*http.Client, error) {
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("no cached oauth token at %s (run the authorize tool first): %w", tokenFile, err)
	}
	return config.Client(context.Background(), tok), nil
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

// ensureFolder finds or creates the root folder
func (dc *DriveClient) ensureFolder() error {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		dc.folderName)

	r, err := dc.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("unable to search for folder: %w", err)
	}

	if len(r.Files) > 0 {
		dc.folderID = r.Files[0].Id
		return nil
	}

	folder := &drive.File{
		Name:     dc.folderName,
		MimeType: "application/vnd.google-apps.folder",
	}

	file, err := dc.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return fmt.Errorf("unable to create folder: %w", err)
	}

	dc.folderID = file.Id
	return nil
}

// UploadChunk uploads one audio chunk into a per-sermon folder and returns
// the created Drive file id.
func (dc *DriveClient) UploadChunk(chunk types.AudioChunk) (string, error) {
	folderID, err := dc.findOrCreateFolder(chunk.SermonID, dc.folderID)
	if err != nil {
		return "", err
	}

	f, err := os.Open(chunk.LocalPath)
	if err != nil {
		return "", fmt.Errorf("unable to open chunk file: %w", err)
	}
	defer f.Close()

	name := fmt.Sprintf("chunk_%04d%s", chunk.Index, filepath.Ext(chunk.LocalPath))
	driveFile := &drive.File{
		Name:    name,
		Parents: []string{folderID},
	}

	created, err := dc.service.Files.Create(driveFile).Media(f).Fields("id").Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload chunk %d of %s: %w", chunk.Index, chunk.SermonID, err)
	}

	return created.Id, nil
}

// findOrCreateFolder locates a child folder by name, creating it if missing.
func (dc *DriveClient) findOrCreateFolder(name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='application/vnd.google-apps.folder' and trashed=false",
		name, parentID)

	r, err := dc.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Do()
	if err != nil {
		return "", fmt.Errorf("unable to search for folder %s: %w", name, err)
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
		Parents:  []string{parentID},
	}
	created, err := dc.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return "", fmt.Errorf("unable to create folder %s: %w", name, err)
	}
	return created.Id, nil
}
