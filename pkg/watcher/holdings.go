package watcher

import (
	"strings"

	"mwallet/pkg/models"
)

// FilterTokens drops tokens the indexer flags as spam.
func FilterTokens(tokens []models.Token) []models.Token {
	out := make([]models.Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Spam {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FilterNFTs keeps displayable NFTs: not spam, with a media URL, and with
// image media.
func FilterNFTs(nfts []models.NFT) []models.NFT {
	out := make([]models.NFT, 0, len(nfts))
	for _, n := range nfts {
		if n.Spam || n.MediaURL == "" || !isImage(n.MediaType) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func isImage(mediaType string) bool {
	mediaType = strings.ToLower(mediaType)
	return mediaType == "image" || strings.HasPrefix(mediaType, "image/")
}
