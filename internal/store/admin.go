package store

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts debug handlers on mux: tsweb's debug index, a
// tailSQL console over every open partition, and a gzip backup download.
// Partitions opened after this call are registered with tailSQL as they
// appear.
func (st *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// create a tailSQL instance and point it at the open partitions
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}

	st.mu.Lock()
	st.tsql = tsql
	for key, db := range st.parts {
		st.registerPartition(key, db)
	}
	st.mu.Unlock()

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of a partition now", http.HandlerFunc(st.handleBackup))
}

// registerPartition exposes a partition to tailSQL. Callers must hold st.mu.
func (st *Store) registerPartition(key string, db *DB) {
	st.tsql.SetDB("sqlite://"+key, db.DB, &tailsql.DBOptions{
		Label: key,
	})
}

// handleBackup streams a gzip'd VACUUM INTO copy of one partition, selected
// by the raw track and type query parameters.
func (st *Store) handleBackup(w http.ResponseWriter, r *http.Request) {
	track := r.URL.Query().Get("track")
	sessionType := r.URL.Query().Get("type")
	if track == "" || sessionType == "" {
		http.Error(w, "track and type query parameters are required", http.StatusBadRequest)
		return
	}

	key := partitionKey(track, sessionType)
	if _, err := os.Stat(filepath.Join(st.baseDir, filepath.FromSlash(key), dbFileName)); err != nil {
		http.Error(w, fmt.Sprintf("no partition for track %q type %q", track, sessionType), http.StatusNotFound)
		return
	}
	db, err := st.openPartition(key)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open partition: %v", err), http.StatusInternalServerError)
		return
	}

	unixTime := time.Now().Unix()
	backupName := fmt.Sprintf("backup-%s-%s-%d.db", sanitizeName(track), sanitizeName(sessionType), unixTime)
	backupPath := filepath.Join(os.TempDir(), backupName)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupName))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	// Send the backup file to the client
	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}

	// close the backup file after sending it
	// and remove it from the filesystem
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			log.Printf("Failed to remove backup file: %v", err)
		}
	}()

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()

	// Copy the backup file content to the gzip writer
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
		return
	}
}
