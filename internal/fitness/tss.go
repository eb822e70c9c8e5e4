package fitness

// ComputeTSS derives the training stress score of an activity from its
// power data and the FTP in effect at the time. Returns nil when there is
// no power data to work with.
//
//	TSS = (seconds * NP * IF) / (FTP * 3600) * 100, IF = NP / FTP
func ComputeTSS(a Activity) *float64 {
	np := a.WeightedAverageWatts
	if np == 0 {
		np = a.AverageWatts
	}
	if np <= 0 || a.FTP <= 0 || a.MovingTime <= 0 {
		return nil
	}

	ftp := float64(a.FTP)
	intensity := np / ftp
	tss := (float64(a.MovingTime) * np * intensity) / (ftp * 3600) * 100
	return &tss
}

// FTPFromTestRide derives a new functional threshold power from an FTP
// test ride as 95% of its average watts. Returns 0 when the activity is
// not marked as a test ride or carries no power data.
func FTPFromTestRide(a Activity) int {
	if !a.IsFTPTest() || a.AverageWatts <= 0 {
		return 0
	}
	return int(a.AverageWatts * 0.95)
}
