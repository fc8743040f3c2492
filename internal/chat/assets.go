package chat

import (
	"regexp"

	"criabot-gateway/internal/ragsdk"

	"github.com/google/uuid"
)

var markdownImageRef = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)

// extractMarkdownImageIDs pulls every asset UUID referenced by a
// ![...](<uuid>) markdown image tag out of text. References that don't
// parse as a UUID are ignored.
func extractMarkdownImageIDs(text string) map[uuid.UUID]bool {
	ids := make(map[uuid.UUID]bool)
	for _, m := range markdownImageRef.FindAllStringSubmatch(text, -1) {
		if id, err := uuid.Parse(m[2]); err == nil {
			ids[id] = true
		}
	}
	return ids
}

// extractUsedAssets returns the assets from candidates whose UUID is
// referenced in text, deduplicated and in candidate arrival order (not the
// order the references appear in text).
func extractUsedAssets(text string, candidates []ragsdk.Asset) []ragsdk.Asset {
	referenced := extractMarkdownImageIDs(text)
	seen := make(map[string]bool, len(candidates))

	var used []ragsdk.Asset
	for _, asset := range candidates {
		if seen[asset.UUID] {
			continue
		}
		id, err := uuid.Parse(asset.UUID)
		if err != nil || !referenced[id] {
			continue
		}
		seen[asset.UUID] = true
		used = append(used, asset)
	}
	return used
}

const strippedAssetData = "<stripped>"

// stripAssetDataFromGroupResponses returns a copy of responses with every
// asset's Data replaced so the reply payload doesn't ship raw asset bytes
// redundantly alongside the assets already resolved onto reply content.
func stripAssetDataFromGroupResponses(responses []ragsdk.GroupSearchResponse) []ragsdk.GroupSearchResponse {
	stripped := make([]ragsdk.GroupSearchResponse, len(responses))
	for i, resp := range responses {
		assets := make([]ragsdk.Asset, len(resp.Assets))
		for j, asset := range resp.Assets {
			asset.Data = strippedAssetData
			assets[j] = asset
		}
		resp.Assets = assets
		stripped[i] = resp
	}
	return stripped
}
