package core

import "gwi.com/neura-chat/internal/store"

type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// Models lists the selectable models in picker order.
var Models = []ModelInfo{
	{ID: "gemini-2.5-flash", Name: "Fast", Description: "Gemini 2.5 Flash", Icon: "⚡"},
	{ID: "gemini-3-pro-preview", Name: "Pro", Description: "Gemini 3 Pro", Icon: "🧠"},
	{ID: "gemini-2.5-flash-image", Name: "Image", Description: "Gemini Image", Icon: "🎨"},
}

var DefaultConfig = store.AIConfig{
	ModelID:   "gemini-2.5-flash",
	UseSearch: false,
}

func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
