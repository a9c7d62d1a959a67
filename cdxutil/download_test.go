/*
Copyright © 2017 the CDX authors.
This file is part of CDX.

CDX is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CDX is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CDX.  If not, see <http://www.gnu.org/licenses/>.
*/

package cdxutil

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestMaybeDownloadLocal(t *testing.T) {
	if k, err := maybeDownload(context.Background(), "/dev/null", logrus.StandardLogger()); err != nil || k != "/dev/null" {
		t.Error("Expected /dev/null, got ", k, err)
	}
}

func TestMaybeDownloadLocal2(t *testing.T) {
	if k, err := maybeDownload(context.Background(), "/blah/test/", logrus.StandardLogger()); err != nil || k != "/blah/test/" {
		t.Error("Expected /blah/test/, got ", k, err)
	}
}

func TestMaybeDownloadRemoteFail(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := maybeDownload(context.Background(), srv.URL+"/test.cdx", logrus.StandardLogger()); err == nil {
		t.Error("expected an error")
	}
}

func TestMaybeDownloadRemote(t *testing.T) {
	dir := t.TempDir()
	path := writeDiscrete(t, dir)
	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	defer srv.Close()

	k, err := maybeDownload(context.Background(), srv.URL+"/"+filepath.Base(path), logrus.StandardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(k, "test.cdd") || k == path {
		t.Error("Expected tempDir/test.cdd, got ", k)
	}
	have, err := ioutil.ReadFile(k)
	if err != nil {
		t.Fatal(err)
	}
	want, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(have) != string(want) {
		t.Error("downloaded file differs from the served file")
	}
	if _, err := Info(k); err != nil {
		t.Error(err)
	}
}

func TestIsBlob(t *testing.T) {
	for path, want := range map[string]bool{
		"gs://bucket/file.cdx":   true,
		"s3://bucket/file.cdx":   true,
		"file://bucket/file.cdx": true,
		"http://host/file.cdx":   false,
		"/home/user/file.cdx":    false,
		"relative/dir/file.cdx":  false,
	} {
		if have := IsBlob(path); have != want {
			t.Errorf("%s: have %v, want %v", path, have, want)
		}
	}
}

func TestOpenBucketInvalid(t *testing.T) {
	if _, err := OpenBucket(context.Background(), "ftp://bucket"); err == nil {
		t.Error("expected an error")
	}
}
