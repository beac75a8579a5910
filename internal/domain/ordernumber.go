package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// businessDayLayout — формат календарного дня в номере заказа.
const businessDayLayout = "20060102"

// orderNumberPattern описывает номер заказа: день и порядковая часть
// минимум из шести цифр. Магазин с более чем 999999 заказами за день
// получает более широкий суффикс, а не ошибку.
var orderNumberPattern = regexp.MustCompile(`^\d{8}-\d{6,}$`)

// OrderCounter — последний выданный номер для магазина.
// Ровно одна запись на магазин; при смене дня перезаписывается целиком.
type OrderCounter struct {
	StoreID string
	// Day — день последней выдачи в формате YYYYMMDD.
	Day string
	// Seq — последний выданный порядковый номер за Day.
	Seq int64
}

// Next возвращает счётчик, продвинутый на один заказ в день day.
// Первый заказ дня (или отсутствующий счётчик) начинает с единицы;
// счётчик перезаписывается, а не инкрементируется, чтобы смена дня
// сбрасывала последовательность.
func (c OrderCounter) Next(day string) OrderCounter {
	next := OrderCounter{StoreID: c.StoreID, Day: day, Seq: 1}
	if c.Day == day {
		next.Seq = c.Seq + 1
	}
	return next
}

// BusinessDay приводит момент времени к календарному дню YYYYMMDD.
// Граница дня едина для всей системы и задаётся часовым поясом сервера.
func BusinessDay(t time.Time) string {
	return t.Format(businessDayLayout)
}

// ValidBusinessDay проверяет, что строка является корректным днём YYYYMMDD.
func ValidBusinessDay(day string) bool {
	if len(day) != 8 {
		return false
	}
	_, err := time.Parse(businessDayLayout, day)
	return err == nil
}

// FormatOrderNumber собирает номер заказа из дня и порядкового номера.
// Шестизначное выравнивание косметическое: %06d расширяется сам.
func FormatOrderNumber(day string, seq int64) string {
	return fmt.Sprintf("%s-%06d", day, seq)
}

// ValidOrderNumber проверяет номер на соответствие формату.
func ValidOrderNumber(number string) bool {
	return orderNumberPattern.MatchString(number)
}

// ParseOrderNumber разбирает номер обратно на день и порядковый номер.
func ParseOrderNumber(number string) (day string, seq int64, err error) {
	if !ValidOrderNumber(number) {
		return "", 0, fmt.Errorf("malformed order number: %q", number)
	}
	parts := strings.SplitN(number, "-", 2)
	seq, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("parse order number seq: %w", err)
	}
	return parts[0], seq, nil
}
