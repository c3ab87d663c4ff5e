package scene

import "github.com/xxxsen/scenesearch/internal/model"

// Limit keeps the first topK scenes in time order; topK <= 0 keeps everything.
// Scenes are not re-ranked by similarity.
func Limit(scenes []model.MergedScene, topK int) []model.MergedScene {
	if topK <= 0 || topK >= len(scenes) {
		return scenes
	}
	return scenes[:topK]
}
