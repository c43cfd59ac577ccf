package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	supportedLocales = []language.Tag{language.English, language.Indonesian}
	matcher          = language.NewMatcher(supportedLocales)
)

func init() {
	en := language.English
	message.SetString(en, "journey.registered", "Journey registered for plate %s to %s.")
	message.SetString(en, "journey.completed", "Plate %s completed the route to %s.")
	message.SetString(en, "journey.route_violation", "Plate %s was seen at checkpoint %d out of route order.")
	message.SetString(en, "journey.timeout", "Plate %s exceeded the checkpoint time budget.")
	message.SetString(en, "journey.low_confidence", "Plate %s needs manual review: low-confidence read.")
	message.SetString(en, "journey.verified_passed", "Plate %s was confirmed by manual verification.")
	message.SetString(en, "journey.verified_failed", "Plate %s was rejected by manual verification.")
	message.SetString(en, "detection.anomaly", "Plate %s was detected at checkpoint %d with no active journey.")
	message.SetString(en, "route.unknown_destination", "Destination %s has no configured route; plate %s cannot progress.")
	message.SetString(en, "checkpoint.capture_retrying", "Camera at checkpoint %d is not responding; retrying.")
	message.SetString(en, "checkpoint.capture_stopped", "Camera at checkpoint %d is unavailable; detection there has stopped.")
	message.SetString(en, "checkpoint.capture_restored", "Camera at checkpoint %d is back online.")

	id := language.Indonesian
	message.SetString(id, "journey.registered", "Perjalanan dicatat untuk plat %s menuju %s.")
	message.SetString(id, "journey.completed", "Plat %s telah menyelesaikan rute menuju %s.")
	message.SetString(id, "journey.route_violation", "Plat %s terdeteksi di checkpoint %d tidak sesuai urutan rute.")
	message.SetString(id, "journey.timeout", "Plat %s melebihi batas waktu antar checkpoint.")
	message.SetString(id, "journey.low_confidence", "Plat %s perlu verifikasi manual: pembacaan kurang yakin.")
	message.SetString(id, "journey.verified_passed", "Plat %s dikonfirmasi melalui verifikasi manual.")
	message.SetString(id, "journey.verified_failed", "Plat %s ditolak melalui verifikasi manual.")
	message.SetString(id, "detection.anomaly", "Plat %s terdeteksi di checkpoint %d tanpa perjalanan aktif.")
	message.SetString(id, "route.unknown_destination", "Tujuan %s tidak memiliki rute; plat %s tidak dapat melanjutkan.")
	message.SetString(id, "checkpoint.capture_retrying", "Kamera di checkpoint %d tidak merespons; mencoba lagi.")
	message.SetString(id, "checkpoint.capture_stopped", "Kamera di checkpoint %d tidak tersedia; deteksi di sana dihentikan.")
	message.SetString(id, "checkpoint.capture_restored", "Kamera di checkpoint %d kembali aktif.")
}
