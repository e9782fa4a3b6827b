package ftp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	goftp "github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	blobmem "github.com/marmos91/nebulaftp/pkg/blob/memory"
	"github.com/marmos91/nebulaftp/pkg/metadata"
	storemem "github.com/marmos91/nebulaftp/pkg/metadata/store/memory"
	"github.com/marmos91/nebulaftp/pkg/upload"
	"github.com/marmos91/nebulaftp/pkg/vfs"
)

type testEnv struct {
	store  *storemem.Store
	blob   *blobmem.Client
	server *Server
	addr   string
}

// startTestServer wires a full stack (memory store, memory blob, upload
// pipeline, VFS, FTP server) on an ephemeral port, with user alice/pw.
func startTestServer(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	ctx := context.Background()

	st := storemem.New()
	require.NoError(t, st.UpsertUser(ctx, &metadata.UserDoc{Login: "alice", Password: "pw"}))

	bl := blobmem.New()
	cache := vfs.NewCache()

	uploader := upload.NewUploader(st, bl, cache, upload.Config{
		Target:    "backend",
		ChunkSize: 8,
	})
	queue := upload.NewQueue(uploader, upload.QueueConfig{Workers: 2, QueueSize: 32})
	queue.Start()
	t.Cleanup(func() { queue.Stop(5 * time.Second) })

	fs := vfs.New(st, cache, bl, queue, t.TempDir())

	cfg.BindHost = "127.0.0.1"
	cfg.BindPort = 0
	srv := NewServer(cfg, NewAuthenticator(st, 0), fs)

	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("server stopped: %v", err)
		}
	}()
	t.Cleanup(func() { srv.Close() })

	require.Eventually(t, func() bool { return srv.Addr() != nil },
		2*time.Second, 10*time.Millisecond, "server never bound")

	return &testEnv{store: st, blob: bl, server: srv, addr: srv.Addr().String()}
}

func dialClient(t *testing.T, addr string) *goftp.ServerConn {
	t.Helper()
	c, err := goftp.Dial(addr, goftp.DialWithTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { c.Quit() })
	return c
}

func TestE2ELoginAndHomeDirectory(t *testing.T) {
	env := startTestServer(t, Config{})

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))

	cwd, err := c.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "/alice", cwd)

	// Home is created on login.
	entries, err := c.List("/")
	require.NoError(t, err)
	names := entryNames(entries)
	assert.Contains(t, names, "alice")
}

func TestE2ELoginFailures(t *testing.T) {
	env := startTestServer(t, Config{})

	c := dialClient(t, env.addr)
	require.Error(t, c.Login("ghost", "pw"))

	c2 := dialClient(t, env.addr)
	require.Error(t, c2.Login("alice", "wrong"))
}

func TestE2EPartialUploadRenameAndDownload(t *testing.T) {
	env := startTestServer(t, Config{})

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))

	// 20 bytes across 8-byte chunks: 8 + 8 + 4.
	content := []byte("0123456789abcdefghij")
	require.NoError(t, c.Stor("report.bin.partial", bytes.NewReader(content)))

	// In-flight uploads are hidden from listings.
	entries, err := c.List("")
	require.NoError(t, err)
	assert.NotContains(t, entryNames(entries), "report.bin.partial")

	// Dropping the suffix hands the file to the upload pipeline.
	require.NoError(t, c.Rename("report.bin.partial", "report.bin"))

	require.Eventually(t, func() bool {
		node, err := env.store.FindOne(context.Background(), "/alice", "report.bin")
		return err == nil && node.Completed()
	}, 5*time.Second, 20*time.Millisecond, "upload never completed")

	node, err := env.store.FindOne(context.Background(), "/alice", "report.bin")
	require.NoError(t, err)
	assert.Len(t, node.Parts, 3)
	assert.Equal(t, int64(len(content)), node.PartsSize())
	assert.Empty(t, node.LocalPath)

	size, err := c.FileSize("report.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)

	// Full download comes back from the chunk store.
	r, err := c.Retr("report.bin")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, content, got)
}

func TestE2ERestResumesDownloadMidChunk(t *testing.T) {
	env := startTestServer(t, Config{})

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))

	content := []byte("0123456789abcdefghij")
	require.NoError(t, c.Stor("data.bin.partial", bytes.NewReader(content)))
	require.NoError(t, c.Rename("data.bin.partial", "data.bin"))

	require.Eventually(t, func() bool {
		node, err := env.store.FindOne(context.Background(), "/alice", "data.bin")
		return err == nil && node.Completed()
	}, 5*time.Second, 20*time.Millisecond)

	// Offset 11 lands inside the second chunk.
	r, err := c.RetrFrom("data.bin", 11)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, content[11:], got)
}

func TestE2EDirectoryLifecycle(t *testing.T) {
	env := startTestServer(t, Config{})

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))

	require.NoError(t, c.MakeDir("photos"))
	require.Error(t, c.MakeDir("photos"), "duplicate mkdir must fail")

	require.NoError(t, c.ChangeDir("photos"))
	cwd, err := c.CurrentDir()
	require.NoError(t, err)
	assert.Equal(t, "/alice/photos", cwd)

	require.NoError(t, c.ChangeDirToParent())
	require.NoError(t, c.RemoveDir("photos"))

	entries, err := c.List("")
	require.NoError(t, err)
	assert.NotContains(t, entryNames(entries), "photos")
}

func TestE2EDeleteFile(t *testing.T) {
	env := startTestServer(t, Config{})

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))

	require.NoError(t, c.Stor("junk.txt", bytes.NewReader([]byte("bytes"))))
	require.NoError(t, c.Delete("junk.txt"))

	entries, err := c.List("")
	require.NoError(t, err)
	assert.NotContains(t, entryNames(entries), "junk.txt")
}

func TestE2EPermissionDeniedOutsideHome(t *testing.T) {
	env := startTestServer(t, Config{})

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))

	// Root is read-only by default.
	err := c.MakeDir("/intruder")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestE2EUnknownCommand(t *testing.T) {
	env := startTestServer(t, Config{})

	conn := rawDial(t, env.addr)
	sendLine(t, conn, "FROBNICATE now")
	assert.True(t, strings.HasPrefix(readLine(t, conn), "502 "))
}

func TestE2EBadSequenceReplies(t *testing.T) {
	env := startTestServer(t, Config{})

	conn := rawDial(t, env.addr)

	// PASS before USER.
	sendLine(t, conn, "PASS pw")
	assert.True(t, strings.HasPrefix(readLine(t, conn), "503 "))

	// RNTO before RNFR, after logging in.
	sendLine(t, conn, "USER alice")
	assert.True(t, strings.HasPrefix(readLine(t, conn), "331 "))
	sendLine(t, conn, "PASS pw")
	assert.True(t, strings.HasPrefix(readLine(t, conn), "230 "))
	sendLine(t, conn, "RNTO newname")
	assert.True(t, strings.HasPrefix(readLine(t, conn), "503 "))
}

func TestE2EServerConnectionCap(t *testing.T) {
	env := startTestServer(t, Config{MaxConnections: 1})

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))

	// The second control connection is refused before the greeting.
	extra, err := net.DialTimeout("tcp", env.addr, 2*time.Second)
	require.NoError(t, err)
	defer extra.Close()

	line, err := bufio.NewReader(extra).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "421 "), line)
}

func TestE2EPerUserConnectionBudget(t *testing.T) {
	env := startTestServer(t, Config{})
	env.server.auth.perUser = 1

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))

	conn := rawDial(t, env.addr)
	sendLine(t, conn, "USER alice")
	assert.True(t, strings.HasPrefix(readLine(t, conn), "421 "))
}

func TestE2EConcurrentSessions(t *testing.T) {
	env := startTestServer(t, Config{})

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			c, err := goftp.Dial(env.addr, goftp.DialWithTimeout(5*time.Second))
			if err != nil {
				return err
			}
			defer c.Quit()
			if err := c.Login("alice", "pw"); err != nil {
				return err
			}

			name := fmt.Sprintf("worker-%d.dat", i)
			content := bytes.Repeat([]byte{byte('a' + i)}, 50)
			if err := c.Stor(name, bytes.NewReader(content)); err != nil {
				return err
			}

			r, err := c.Retr(name)
			if err != nil {
				return err
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			if !bytes.Equal(got, content) {
				return fmt.Errorf("%s: got %d bytes, want %d", name, len(got), len(content))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))
	entries, err := c.List(".")
	require.NoError(t, err)
	names := entryNames(entries)
	for i := 0; i < 8; i++ {
		assert.Contains(t, names, fmt.Sprintf("worker-%d.dat", i))
	}
}

func TestE2EDeleteDirectoryRefused(t *testing.T) {
	env := startTestServer(t, Config{})

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))
	require.NoError(t, c.MakeDir("docs"))

	err := c.Delete("docs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a file")

	// The directory and its document survive.
	entries, err := c.List("")
	require.NoError(t, err)
	assert.Contains(t, entryNames(entries), "docs")
}

func TestE2EStorIntoMissingDirectoryRefused(t *testing.T) {
	env := startTestServer(t, Config{})

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))

	err := c.Stor("nodir/f.txt", bytes.NewReader([]byte("lost")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path invalid")

	// No orphaned document under the missing parent.
	_, err = env.store.FindOne(context.Background(), "/alice/nodir", "f.txt")
	require.Error(t, err)
}

func TestE2EStatCommandsRequireReadPermission(t *testing.T) {
	env := startTestServer(t, Config{})
	ctx := context.Background()

	// A declared root permission overrides the implicit read-only root
	// grant, making everything outside bob's home invisible.
	require.NoError(t, env.store.UpsertUser(ctx, &metadata.UserDoc{
		Login:       "bob",
		Password:    "pw",
		Permissions: []metadata.PermissionDoc{{Path: "/", Readable: false, Writable: false}},
	}))

	secret := metadata.NewFile("/alice", "secret.txt")
	secret.Size = 6
	require.NoError(t, env.store.Insert(ctx, secret))

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("bob", "pw"))

	_, err := c.FileSize("/alice/secret.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	rc := rawDial(t, env.addr)
	rawLogin(t, rc, "bob", "pw")
	sendLine(t, rc, "MDTM /alice/secret.txt")
	assert.True(t, strings.HasPrefix(readLine(t, rc), "550 "))
}

func TestE2ERepeatedPassAndOptsReplies(t *testing.T) {
	env := startTestServer(t, Config{})

	rc := rawDial(t, env.addr)
	rawLogin(t, rc, "alice", "pw")

	sendLine(t, rc, "PASS pw")
	assert.True(t, strings.HasPrefix(readLine(t, rc), "503 "))

	sendLine(t, rc, "OPTS UTF8 ON")
	assert.True(t, strings.HasPrefix(readLine(t, rc), "200 "))

	sendLine(t, rc, "OPTS MLST size;modify;")
	assert.True(t, strings.HasPrefix(readLine(t, rc), "501 "))
}

func TestE2EDataConnectionAfterPreliminaryReply(t *testing.T) {
	env := startTestServer(t, Config{})

	rc := rawDial(t, env.addr)
	rawLogin(t, rc, "alice", "pw")
	port := pasvPort(t, rc)

	// Dial the data port only after seeing the 150, as clients may.
	sendLine(t, rc, "LIST")
	require.True(t, strings.HasPrefix(readLine(t, rc), "150 "))

	data := dialDataPort(t, port)
	_, err := io.ReadAll(data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(readLine(t, rc), "226 "))
}

func TestE2EListDuringStor(t *testing.T) {
	env := startTestServer(t, Config{})

	// Seed a completed file so the mid-transfer listing has content.
	seed := dialClient(t, env.addr)
	require.NoError(t, seed.Login("alice", "pw"))
	require.NoError(t, seed.Stor("seen.dat", bytes.NewReader([]byte("seed"))))

	rc := rawDial(t, env.addr)
	rawLogin(t, rc, "alice", "pw")

	storData := dialDataPort(t, pasvPort(t, rc))
	sendLine(t, rc, "STOR slow.dat")
	require.True(t, strings.HasPrefix(readLine(t, rc), "150 "))

	// First half of the upload; the connection stays open so the
	// transfer is in flight while the listing runs.
	_, err := storData.Write([]byte("first"))
	require.NoError(t, err)

	// Let the transfer worker claim its connection before the listing's
	// connection arrives at the passive listener.
	time.Sleep(200 * time.Millisecond)

	listData := dialDataPort(t, pasvPort(t, rc))
	sendLine(t, rc, "LIST")
	require.True(t, strings.HasPrefix(readLine(t, rc), "150 "))

	listing, err := io.ReadAll(listData)
	require.NoError(t, err)
	assert.Contains(t, string(listing), "seen.dat")
	require.True(t, strings.HasPrefix(readLine(t, rc), "226 "))

	// The upload's own connection is untouched; finish it.
	_, err = storData.Write([]byte("-second"))
	require.NoError(t, err)
	require.NoError(t, storData.Close())
	require.True(t, strings.HasPrefix(readLine(t, rc), "226 "))

	node, err := env.store.FindOne(context.Background(), "/alice", "slow.dat")
	require.NoError(t, err)
	assert.Equal(t, int64(len("first-second")), node.Size)
}

func TestE2ESizeOfPartialFileHidden(t *testing.T) {
	env := startTestServer(t, Config{})

	c := dialClient(t, env.addr)
	require.NoError(t, c.Login("alice", "pw"))

	require.NoError(t, c.Stor("upload.tmp.partial", bytes.NewReader([]byte("half"))))

	// The node exists in the store but stays out of listings until the
	// rename commits it.
	node, err := env.store.FindOne(context.Background(), "/alice", "upload.tmp.partial")
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusStaging, node.Status)
}

// ============================================================================
// Raw control-channel helpers
// ============================================================================

func rawDial(t *testing.T, addr string) *rawConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	rc := &rawConn{conn: conn, r: bufio.NewReader(conn)}
	greeting := readLine(t, rc)
	require.True(t, strings.HasPrefix(greeting, "220 "), greeting)
	return rc
}

type rawConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func sendLine(t *testing.T, rc *rawConn, line string) {
	t.Helper()
	_, err := fmt.Fprintf(rc.conn, "%s\r\n", line)
	require.NoError(t, err)
}

func readLine(t *testing.T, rc *rawConn) string {
	t.Helper()
	rc.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := rc.r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func rawLogin(t *testing.T, rc *rawConn, user, pass string) {
	t.Helper()
	sendLine(t, rc, "USER "+user)
	require.True(t, strings.HasPrefix(readLine(t, rc), "331 "))
	sendLine(t, rc, "PASS "+pass)
	require.True(t, strings.HasPrefix(readLine(t, rc), "230 "))
}

// pasvPort issues PASV and decodes the advertised port.
func pasvPort(t *testing.T, rc *rawConn) int {
	t.Helper()
	sendLine(t, rc, "PASV")
	line := readLine(t, rc)
	require.True(t, strings.HasPrefix(line, "227 "), line)

	open := strings.Index(line, "(")
	end := strings.Index(line, ")")
	require.True(t, open >= 0 && end > open, line)
	parts := strings.Split(line[open+1:end], ",")
	require.Len(t, parts, 6, line)

	hi, err := strconv.Atoi(parts[4])
	require.NoError(t, err)
	lo, err := strconv.Atoi(parts[5])
	require.NoError(t, err)
	return hi<<8 | lo
}

func dialDataPort(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func entryNames(entries []*goftp.Entry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}
