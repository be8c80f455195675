package lyrics

import "github.com/scannsing/scannsing/pkg/models"

// Sample is a bundled public-domain song.
type Sample struct {
	Name  string
	Lines []models.LyricLine
}

type stamp struct {
	ts   float64
	text string
}

func sample(name string, stamps []stamp) Sample {
	lines := make([]models.LyricLine, 0, len(stamps))
	for _, s := range stamps {
		lines = append(lines, models.LyricLine{Timestamp: s.ts, Text: s.text})
	}
	return Sample{Name: name, Lines: lines}
}

// SampleTracks returns the demo songs. Line IDs are left empty for the store
// to assign.
func SampleTracks() []Sample {
	return []Sample{
		sample("The Yellow and Blue", []stamp{
			{0.0, "[Instrumental]"},
			{12.5, "Sing to the colors that float in the light;"},
			{20.0, "Hurrah for the Yellow and Blue!"},
			{27.0, "Yellow the stars as they ride through the night"},
			{34.0, "And reel in a rollicking crew;"},
			{41.5, "Yellow the field where ripens the grain"},
			{47.5, "And yellow the moon on the harvest wain;"},
			{55.5, "Hail!"},
			{60.5, "Hail to the colors that float in the light"},
			{67.0, "Hurrah for the Yellow and Blue!"},
		}),
		sample("The Star Spangled Banner", []stamp{
			{0.0, "[Instrumental]"},
			{8.30, "Oh say can you see"},
			{12.55, "By the dawn's early light"},
			{17.35, "What so proudly we hailed"},
			{21.94, "At the twilight's last gleaming"},
			{26.74, "Whose broad stripes and bright stars"},
			{31.17, "Through the perilous fight"},
			{35.98, "O'er the ramparts we watched"},
			{40.52, "Were so gallantly streaming"},
			{44.99, "And the rocket's red glare"},
			{49.46, "The bombs bursting in air"},
			{53.84, "Gave proof through the night"},
			{58.49, "That our flag was still there"},
			{63.47, "Oh say does that star spangled banner yet wave"},
			{73.81, "O'er the land of the free"},
			{79.53, "And the home of the brave"},
		}),
	}
}
