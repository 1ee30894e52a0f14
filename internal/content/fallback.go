package content

import "github.com/bryan-buckman/channelsync/internal/model"

// DefaultImageBaseURL prefixes the relative image paths of TMDB payloads.
const DefaultImageBaseURL = "https://image.tmdb.org/t/p/w200"

// DefaultFallback is the built-in list served when the remote endpoint is
// unavailable.
func DefaultFallback(category string) []model.ContentItem {
	if category == "" {
		category = "category"
	}
	return []model.ContentItem{
		{
			Title: "Ford v Ferrari",
			Description: "Durante a década de 1960, a Ford resolve entrar no ramo das corridas automobilísticas " +
				"de forma que a empresa ganhe o prestígio e o glamour da concorrente Ferrari, campeoníssima em várias corridas.",
			Category:           category,
			CardImageURL:       DefaultImageBaseURL + "/lKhF0QX724VS2QqBzSZ4KJif3Ny.jpg",
			BackgroundImageURL: DefaultImageBaseURL + "/lKhF0QX724VS2QqBzSZ4KJif3Ny.jpg",
		},
	}
}
