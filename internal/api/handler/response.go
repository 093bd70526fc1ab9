package handler

import (
	"time"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
)

// CourseResponse はコースのレスポンス
type CourseResponse struct {
	Key             string  `json:"key" example:"-NcYoga01"`
	DisplayName     string  `json:"display_name" example:"Flow Yoga - Monday at 10:00"`
	ClassType       string  `json:"class_type" example:"Flow Yoga"`
	DayOfWeek       string  `json:"day_of_week" example:"Monday"`
	Time            string  `json:"time" example:"10:00"`
	Capacity        int     `json:"capacity" example:"20"`
	Duration        int     `json:"duration" example:"60"`
	Price           float64 `json:"price" example:"12.5"`
	PriceLabel      string  `json:"price_label" example:"£12.50"`
	Description     string  `json:"description,omitempty"`
	InstructorName  string  `json:"instructor_name,omitempty"`
	RoomNumber      string  `json:"room_number,omitempty"`
	DifficultyLevel string  `json:"difficulty_level,omitempty"`
	EquipmentNeeded string  `json:"equipment_needed,omitempty"`
	AgeGroup        string  `json:"age_group,omitempty"`
}

// ClassResponse はクラスのレスポンス
type ClassResponse struct {
	Key                string          `json:"key" example:"-NcClass01"`
	DisplayName        string          `json:"display_name" example:"Flow Yoga - 01/06/2026"`
	CourseKey          string          `json:"course_key" example:"-NcYoga01"`
	Date               string          `json:"date" example:"01/06/2026"`
	DayOfWeek          string          `json:"day_of_week,omitempty" example:"Monday"`
	AssignedInstructor string          `json:"assigned_instructor" example:"Aiko"`
	AdditionalComments string          `json:"additional_comments,omitempty"`
	Capacity           int             `json:"capacity" example:"20"`
	SlotsAvailable     int             `json:"slots_available" example:"5"`
	Status             class.Status    `json:"status" example:"active"`
	IsPast             bool            `json:"is_past"`
	IsBooked           *bool           `json:"is_booked,omitempty"`
	Course             *CourseResponse `json:"course,omitempty"`
}

// BookingResponse は予約のレスポンス
type BookingResponse struct {
	ID          string       `json:"id" example:"user-123_-NcClass01"`
	UserID      string       `json:"user_id" example:"user-123"`
	ClassID     string       `json:"class_id" example:"-NcClass01"`
	BookingDate string       `json:"booking_date" example:"2026-05-01T09:00:00.000Z"`
	UserName    string       `json:"user_name,omitempty"`
	UserEmail   string       `json:"user_email,omitempty"`
	ClassName   string       `json:"class_name,omitempty"`
	ClassDate   string       `json:"class_date,omitempty"`
	ClassTime   string       `json:"class_time,omitempty"`
	Price       float64      `json:"price,omitempty"`
	ClassStatus class.Status `json:"class_status,omitempty"`
}

// BookingsResponse はユーザーの予約一覧のレスポンス
type BookingsResponse struct {
	Bookings []BookingResponse `json:"bookings"`
	Loading  LoadingResponse   `json:"loading"`
}

// LoadingResponse は読み込み状態
type LoadingResponse struct {
	IsLoading bool   `json:"is_loading"`
	Error     string `json:"error,omitempty"`
}

func toCourseResponse(c *course.Template) *CourseResponse {
	if c == nil {
		return nil
	}
	return &CourseResponse{
		Key:             c.Key,
		DisplayName:     c.DisplayName(),
		ClassType:       c.ClassType,
		DayOfWeek:       c.DayOfWeek,
		Time:            c.Time,
		Capacity:        c.Capacity,
		Duration:        c.Duration,
		Price:           c.Price,
		PriceLabel:      course.FormatPrice(c.Price),
		Description:     c.Description,
		InstructorName:  c.InstructorName,
		RoomNumber:      c.RoomNumber,
		DifficultyLevel: c.DifficultyLevel,
		EquipmentNeeded: c.EquipmentNeeded,
		AgeGroup:        c.AgeGroup,
	}
}

func toClassResponse(c *class.Enriched, now time.Time) ClassResponse {
	return ClassResponse{
		Key:                c.Key,
		DisplayName:        c.DisplayName(c.Course),
		CourseKey:          c.CourseKey,
		Date:               c.Date,
		DayOfWeek:          c.DayOfWeek(),
		AssignedInstructor: c.AssignedInstructor,
		AdditionalComments: c.AdditionalComments,
		Capacity:           c.EffectiveCapacity(c.Course),
		SlotsAvailable:     c.SlotsAvailable,
		Status:             c.Status,
		IsPast:             c.IsPast(now),
		Course:             toCourseResponse(c.Course),
	}
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:          b.ID,
		UserID:      b.UserID,
		ClassID:     b.ClassID,
		BookingDate: b.BookingDate,
		UserName:    b.UserName,
		UserEmail:   b.UserEmail,
		ClassName:   b.ClassName,
		ClassDate:   b.ClassDate,
		ClassTime:   b.ClassTime,
		Price:       b.Price,
		ClassStatus: b.ClassStatus,
	}
}

func toBookingResponses(bookings []booking.Booking) []BookingResponse {
	out := make([]BookingResponse, 0, len(bookings))
	for i := range bookings {
		out = append(out, toBookingResponse(&bookings[i]))
	}
	return out
}
