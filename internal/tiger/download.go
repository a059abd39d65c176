package tiger

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/censusify/internal/fetcher"
)

// Download fetches a TIGER/Line archive into destDir, extracts it and returns
// the .shp path. An archive already present in destDir is reused.
func Download(ctx context.Context, f fetcher.Fetcher, url, destDir string) (string, error) {
	log := zap.L().With(zap.String("component", "tiger"), zap.String("url", url))

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create dest dir")
	}

	zipName := path.Base(url)
	zipPath := filepath.Join(destDir, zipName)
	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		log.Debug("archive already downloaded", zap.String("path", zipPath))
	} else {
		log.Info("downloading block group shapefile")
		if _, err := f.DownloadToFile(ctx, url, zipPath); err != nil {
			_ = os.Remove(zipPath)
			return "", eris.Wrap(err, "tiger: download archive")
		}
	}

	extractDir := filepath.Join(destDir, strings.TrimSuffix(zipName, ".zip"))
	files, err := fetcher.ExtractZIP(zipPath, extractDir)
	if err != nil {
		return "", eris.Wrap(err, "tiger: extract archive")
	}
	for _, p := range files {
		if strings.EqualFold(filepath.Ext(p), ".shp") {
			return p, nil
		}
	}
	return "", eris.Errorf("tiger: no .shp file in %s", zipName)
}

// LoadBlockGroups downloads the state's block group archive and returns the
// block groups of one county.
func LoadBlockGroups(ctx context.Context, f fetcher.Fetcher, baseURL string, year int, stateFIPS, countyFIPS, tempDir string) ([]BlockGroupFeature, error) {
	shpPath, err := Download(ctx, f, BlockGroupURL(baseURL, year, stateFIPS), tempDir)
	if err != nil {
		return nil, err
	}
	return ReadBlockGroups(shpPath, countyFIPS)
}
