package model

// AccrualOutcome вычисляет итог учёта визита: новое значение счётчика и
// признак чеканки награды. visits — счётчик уже с учтённым визитом.
// При достижении порога счётчик уменьшается на порог, а не обнуляется,
// чтобы излишек визитов засчитался в следующий цикл. Порог меньше единицы
// означает, что программа не настроена и награда не чеканится.
func AccrualOutcome(visits, targetVisits int64) (int64, bool) {
	if targetVisits < 1 || visits < targetVisits {
		return visits, false
	}
	return visits - targetVisits, true
}
