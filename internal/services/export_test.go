package services

// SetIDGenerator replaces the order id source.
func (s *OrderService) SetIDGenerator(fn func() string) { s.newID = fn }
